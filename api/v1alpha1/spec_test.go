package v1alpha1

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Embedded OpenAPI document", func() {
	It("should parse and validate", func() {
		swagger, err := GetSwagger()

		Expect(err).NotTo(HaveOccurred())
		Expect(swagger.Servers).To(HaveLen(1))
		Expect(swagger.Servers[0].URL).To(Equal("/api/v1alpha1"))
	})

	It("should describe every control operation", func() {
		swagger, err := GetSwagger()
		Expect(err).NotTo(HaveOccurred())

		for _, path := range []string{
			"/instances/provision",
			"/instances/{instanceId}/start",
			"/instances/{instanceId}/stop",
			"/instances/{instanceId}/restart",
			"/instances/{instanceId}/scale",
			"/instances/{instanceId}/deprovision",
			"/instances/{instanceId}/status",
		} {
			Expect(swagger.Paths.Find(path)).NotTo(BeNil(), "missing path %s", path)
		}
	})
})
