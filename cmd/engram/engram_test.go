package engramcmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	engramcmder "github.com/papercomputeco/engram/cmd/engram"
)

var _ = Describe("NewEngramCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := engramcmder.NewEngramCmd()
		Expect(cmd.Use).To(Equal("engram"))
	})

	It("registers all subcommands", func() {
		cmd := engramcmder.NewEngramCmd()
		cmds := cmd.Commands()
		subcommands := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements(
			"serve", "jobs", "remember", "recall", "config", "init", "version",
		))
	})

	It("has a persistent debug flag", func() {
		cmd := engramcmder.NewEngramCmd()
		flag := cmd.PersistentFlags().Lookup("debug")
		Expect(flag).NotTo(BeNil())
		Expect(flag.DefValue).To(Equal("false"))
	})

	It("has a persistent config-dir flag", func() {
		cmd := engramcmder.NewEngramCmd()
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})
})
