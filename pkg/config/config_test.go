package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/config"
)

var _ = Describe("Config", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "engram-config-*")
		Expect(err).NotTo(HaveOccurred())

		tmpDir, err = filepath.EvalSymlinks(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("NewDefaultConfig", func() {
		It("populates every section", func() {
			cfg := config.NewDefaultConfig()
			Expect(cfg.Storage.Provider).To(Equal("sqlite"))
			Expect(cfg.API.Listen).To(Equal(":8080"))
			Expect(cfg.Client.APITarget).To(Equal("http://localhost:8080"))
			Expect(cfg.VectorStore.Provider).To(Equal("sqlite"))
			Expect(cfg.Embedding.Provider).To(Equal("ollama"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(768)))
			Expect(cfg.Extraction.Provider).To(Equal("ollama"))
			Expect(cfg.Summary.Provider).To(Equal("joiner"))
			Expect(cfg.Eventstream.Provider).To(Equal("none"))
			Expect(cfg.Eventstream.Topic).To(Equal("engram.facts"))
		})
	})

	Describe("ParseConfigTOML", func() {
		It("parses sectioned TOML", func() {
			data := []byte(`
version = 0

[storage]
provider = "postgres"
postgres_dsn = "postgres://localhost/engram"

[api]
listen = ":9090"

[embedding]
provider = "openai"
model = "text-embedding-3-small"
dimensions = 1536

[eventstream]
provider = "kafka"
brokers = ["localhost:9092", "localhost:9093"]
topic = "memory.facts"
`)
			cfg, err := config.ParseConfigTOML(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Provider).To(Equal("postgres"))
			Expect(cfg.Storage.PostgresDSN).To(Equal("postgres://localhost/engram"))
			Expect(cfg.API.Listen).To(Equal(":9090"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(1536)))
			Expect(cfg.Eventstream.Brokers).To(Equal([]string{"localhost:9092", "localhost:9093"}))
			Expect(cfg.Eventstream.Topic).To(Equal("memory.facts"))
		})

		It("rejects unsupported versions", func() {
			_, err := config.ParseConfigTOML([]byte("version = 99\n"))
			Expect(err).To(HaveOccurred())
		})

		It("rejects malformed TOML", func() {
			_, err := config.ParseConfigTOML([]byte("[storage\nprovider ="))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Configer", func() {
		It("returns defaults when no config file exists", func() {
			cfger, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := cfger.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Provider).To(Equal("sqlite"))
		})

		It("round-trips save and load", func() {
			cfger, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg := config.NewDefaultConfig()
			cfg.API.Listen = ":7070"
			cfg.Storage.SQLitePath = "/tmp/engram.db"
			Expect(cfger.SaveConfig(cfg)).To(Succeed())

			loaded, err := cfger.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.API.Listen).To(Equal(":7070"))
			Expect(loaded.Storage.SQLitePath).To(Equal("/tmp/engram.db"))
		})

		It("fills unset fields with defaults on load", func() {
			path := filepath.Join(tmpDir, "config.toml")
			Expect(os.WriteFile(path, []byte("[api]\nlisten = \":7071\"\n"), 0o600)).To(Succeed())

			cfger, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := cfger.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.API.Listen).To(Equal(":7071"))
			Expect(cfg.Storage.Provider).To(Equal("sqlite"))
			Expect(cfg.Embedding.Model).To(Equal("nomic-embed-text"))
		})

		It("refuses to save a nil config", func() {
			cfger, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfger.SaveConfig(nil)).NotTo(Succeed())
		})

		Describe("SetConfigValue and GetConfigValue", func() {
			It("sets and gets string keys", func() {
				cfger, err := config.NewConfiger(tmpDir)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfger.SetConfigValue("storage.provider", "postgres")).To(Succeed())

				got, err := cfger.GetConfigValue("storage.provider")
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(Equal("postgres"))
			})

			It("sets numeric keys with validation", func() {
				cfger, err := config.NewConfiger(tmpDir)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfger.SetConfigValue("embedding.dimensions", "1536")).To(Succeed())
				Expect(cfger.SetConfigValue("embedding.dimensions", "not-a-number")).NotTo(Succeed())
			})

			It("parses broker lists from comma-separated values", func() {
				cfger, err := config.NewConfiger(tmpDir)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfger.SetConfigValue("eventstream.brokers", "a:9092, b:9092")).To(Succeed())

				got, err := cfger.GetConfigValue("eventstream.brokers")
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(Equal("a:9092,b:9092"))
			})

			It("rejects unknown keys", func() {
				cfger, err := config.NewConfiger(tmpDir)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfger.SetConfigValue("nope.nothing", "x")).NotTo(Succeed())
				_, err = cfger.GetConfigValue("nope.nothing")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("ValidConfigKeys", func() {
		It("covers every registered key exactly once", func() {
			keys := config.ValidConfigKeys()
			seen := make(map[string]bool)
			for _, k := range keys {
				Expect(seen[k]).To(BeFalse(), "duplicate key %q", k)
				seen[k] = true
				Expect(config.IsValidConfigKey(k)).To(BeTrue())
			}
			Expect(keys).To(ContainElement("storage.provider"))
			Expect(keys).To(ContainElement("eventstream.topic"))
		})
	})

	Describe("PresetConfig", func() {
		It("builds the openai preset", func() {
			cfg, err := config.PresetConfig("openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Embedding.Provider).To(Equal("openai"))
			Expect(cfg.Extraction.Provider).To(Equal("openai"))
			Expect(cfg.Summary.Provider).To(Equal("openai"))
		})

		It("builds the local preset without model dependencies", func() {
			cfg, err := config.PresetConfig("local")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Embedding.Provider).To(Equal("none"))
			Expect(cfg.Extraction.Provider).To(Equal("none"))
			Expect(cfg.Summary.Provider).To(Equal("joiner"))
		})

		It("rejects unknown presets", func() {
			_, err := config.PresetConfig("mystery")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("InitViper", func() {
		It("applies defaults and environment overrides", func() {
			Expect(os.Setenv("ENGRAM_API_LISTEN", ":6060")).To(Succeed())
			DeferCleanup(func() { os.Unsetenv("ENGRAM_API_LISTEN") })

			v, err := config.InitViper(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			Expect(v.GetString("api.listen")).To(Equal(":6060"))
			Expect(v.GetString("storage.provider")).To(Equal("sqlite"))
		})

		It("registers ranking and job tunables", func() {
			v, err := config.InitViper(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			Expect(v.GetFloat64("priority.usage_weight")).To(Equal(0.3))
			Expect(v.GetInt("priority.usage_window_days")).To(Equal(30))
			Expect(v.GetFloat64("jobs.weekly.half_life_days")).To(Equal(30.0))
			Expect(v.GetInt("jobs.monthly.embed_batch_size")).NotTo(BeZero())
		})

		It("reads values from config.toml", func() {
			path := filepath.Join(tmpDir, "config.toml")
			Expect(os.WriteFile(path, []byte("[storage]\nprovider = \"inmemory\"\n"), 0o600)).To(Succeed())

			v, err := config.InitViper(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.GetString("storage.provider")).To(Equal("inmemory"))
		})
	})
})
