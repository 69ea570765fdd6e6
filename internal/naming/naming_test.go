package naming

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Naming", func() {
	ts := time.Unix(1712345678, 0)

	Describe("AppName", func() {
		It("should derive a deterministic app name from the account ID", func() {
			Expect(AppName("acct-12345678", ts)).To(Equal("mindroom-acct1234-1712345678"))
		})

		It("should lowercase and strip separators from the account ID", func() {
			Expect(AppName("ACCT_99-Z", ts)).To(Equal("mindroom-acct99z-1712345678"))
		})

		It("should fall back to a placeholder slug for empty account IDs", func() {
			Expect(AppName("---", ts)).To(Equal("mindroom-acct-1712345678"))
		})
	})

	Describe("Subdomain", func() {
		It("should derive the subdomain from the tier", func() {
			Expect(Subdomain("starter", ts)).To(Equal("starter-1712345678"))
		})

		It("should sanitize the tier value", func() {
			Expect(Subdomain("Pro Plan!", ts)).To(Equal("proplan-1712345678"))
		})
	})

	Describe("AppsFor", func() {
		It("should expand the base name into the four applications", func() {
			apps := AppsFor("mindroom-acct1234-1712345678")

			Expect(apps.Main).To(Equal("mindroom-acct1234-1712345678"))
			Expect(apps.Backend).To(Equal("mindroom-acct1234-1712345678-backend"))
			Expect(apps.Frontend).To(Equal("mindroom-acct1234-1712345678-frontend"))
			Expect(apps.Matrix).To(Equal("mindroom-acct1234-1712345678-matrix"))
			Expect(apps.All()).To(HaveLen(4))
			Expect(apps.UserFacing()).To(ConsistOf(apps.Backend, apps.Frontend, apps.Matrix))
		})
	})

	Describe("service names", func() {
		It("should derive database and cache names from the app name", func() {
			Expect(DatabaseName("mr-app")).To(Equal("mr-app-db"))
			Expect(CacheName("mr-app")).To(Equal("mr-app-cache"))
		})
	})

	Describe("EndpointsFor", func() {
		It("should build the three public https URLs", func() {
			endpoints := EndpointsFor("starter-1712345678", "mindroom.cloud")

			Expect(endpoints.Frontend).To(Equal("https://starter-1712345678.mindroom.cloud"))
			Expect(endpoints.Backend).To(Equal("https://api-starter-1712345678.mindroom.cloud"))
			Expect(endpoints.Messaging).To(Equal("https://matrix-starter-1712345678.mindroom.cloud"))
		})
	})

	Describe("DomainsFor", func() {
		It("should map each user-facing application to its domain", func() {
			apps := AppsFor("mr-app")
			domains := DomainsFor(apps, "starter-1", "mindroom.cloud")

			Expect(domains).To(HaveKeyWithValue(apps.Frontend, "starter-1.mindroom.cloud"))
			Expect(domains).To(HaveKeyWithValue(apps.Backend, "api-starter-1.mindroom.cloud"))
			Expect(domains).To(HaveKeyWithValue(apps.Matrix, "matrix-starter-1.mindroom.cloud"))
		})
	})
})

var _ = Describe("Tiers", func() {
	Describe("LimitsFor", func() {
		It("should return the configured limits for a known tier", func() {
			table := DefaultTiers()

			Expect(table.LimitsFor(TierProfessional)).To(Equal(Limits{Memory: "1g", CPU: "1"}))
			Expect(table.LimitsFor(TierEnterprise)).To(Equal(Limits{Memory: "2g", CPU: "2"}))
		})

		It("should fall back to starter limits for unknown tiers", func() {
			table := DefaultTiers()

			Expect(table.LimitsFor("platinum")).To(Equal(Limits{Memory: "512m", CPU: "0.5"}))
			Expect(table.LimitsFor("")).To(Equal(Limits{Memory: "512m", CPU: "0.5"}))
		})
	})

	Describe("LoadTiers", func() {
		It("should return the defaults when no file is configured", func() {
			table, err := LoadTiers("")

			Expect(err).NotTo(HaveOccurred())
			Expect(table.LimitsFor(TierStarter)).To(Equal(Limits{Memory: "512m", CPU: "0.5"}))
		})

		It("should merge overrides over the built-in table", func() {
			path := filepath.Join(GinkgoT().TempDir(), "tiers.yaml")
			content := "starter:\n  memory: 1g\n  cpu: \"1\"\ntrial:\n  memory: 256m\n  cpu: \"0.25\"\n"
			Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())

			table, err := LoadTiers(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(table.LimitsFor(TierStarter)).To(Equal(Limits{Memory: "1g", CPU: "1"}))
			Expect(table.LimitsFor("trial")).To(Equal(Limits{Memory: "256m", CPU: "0.25"}))
			Expect(table.LimitsFor(TierEnterprise)).To(Equal(Limits{Memory: "2g", CPU: "2"}))
		})

		It("should fail for an unreadable file", func() {
			_, err := LoadTiers("/does/not/exist.yaml")

			Expect(err).To(HaveOccurred())
		})
	})
})
