package remote

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeRunner records every command issued through the client and replies
// from a canned script.
type fakeRunner struct {
	commands []string
	reply    func(command string) (string, error)
}

func (f *fakeRunner) run(_ context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	if f.reply != nil {
		return f.reply(command)
	}
	return "", nil
}

var _ = Describe("Commands", func() {
	var (
		client *Client
		runner *fakeRunner
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		runner = &fakeRunner{}
		client = NewClient(Config{Host: "paas.mindroom.cloud", Password: "secret"})
		client.runner = runner.run
	})

	Describe("CreateApp", func() {
		It("should issue a prefixed apps:create command", func() {
			Expect(client.CreateApp(ctx, "mr-app")).To(Succeed())
			Expect(runner.commands).To(ConsistOf("dokku apps:create mr-app"))
		})

		It("should treat an already existing application as success", func() {
			runner.reply = func(string) (string, error) {
				return "", &CommandError{Command: "dokku apps:create mr-app", Stderr: "Name is already taken: already exists", ExitCode: 1}
			}

			Expect(client.CreateApp(ctx, "mr-app")).To(Succeed())
		})
	})

	Describe("AppExists", func() {
		It("should return true when the query succeeds", func() {
			Expect(client.AppExists(ctx, "mr-app")).To(BeTrue())
			Expect(runner.commands).To(ConsistOf("dokku apps:exists mr-app"))
		})

		It("should return false on any query failure", func() {
			runner.reply = func(string) (string, error) {
				return "", &CommandError{Command: "dokku apps:exists mr-app", ExitCode: 1}
			}

			Expect(client.AppExists(ctx, "mr-app")).To(BeFalse())
		})
	})

	Describe("DestroyApp", func() {
		It("should destroy an existing application with --force", func() {
			Expect(client.DestroyApp(ctx, "mr-app")).To(Succeed())
			Expect(runner.commands).To(Equal([]string{
				"dokku apps:exists mr-app",
				"dokku apps:destroy mr-app --force",
			}))
		})

		It("should skip the destroy when the application is absent", func() {
			runner.reply = func(command string) (string, error) {
				if command == "dokku apps:exists mr-app" {
					return "", &CommandError{Command: command, ExitCode: 1}
				}
				return "", nil
			}

			Expect(client.DestroyApp(ctx, "mr-app")).To(Succeed())
			Expect(runner.commands).To(ConsistOf("dokku apps:exists mr-app"))
		})
	})

	Describe("SetConfig", func() {
		It("should apply keys in sorted order with quoted values", func() {
			err := client.SetConfig(ctx, "mr-app", map[string]string{
				"ZED":                  "last",
				"MINDROOM_INSTANCE_ID": "inst-1",
				"API_URL":              "https://api.example.com?a=1&b=2",
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands).To(ConsistOf(
				"dokku config:set --no-restart mr-app " +
					"API_URL='https://api.example.com?a=1&b=2' " +
					"MINDROOM_INSTANCE_ID='inst-1' " +
					"ZED='last'",
			))
		})

		It("should be a no-op for an empty variable map", func() {
			Expect(client.SetConfig(ctx, "mr-app", nil)).To(Succeed())
			Expect(runner.commands).To(BeEmpty())
		})
	})

	Describe("service verbs", func() {
		It("should build postgres and redis commands", func() {
			Expect(client.CreateDatabase(ctx, "mr-app-db")).To(Succeed())
			Expect(client.LinkDatabase(ctx, "mr-app-db", "mr-app-backend")).To(Succeed())
			Expect(client.CreateCache(ctx, "mr-app-cache")).To(Succeed())
			Expect(client.LinkCache(ctx, "mr-app-cache", "mr-app-matrix")).To(Succeed())

			Expect(runner.commands).To(Equal([]string{
				"dokku postgres:create mr-app-db",
				"dokku postgres:link mr-app-db mr-app-backend",
				"dokku redis:create mr-app-cache",
				"dokku redis:link mr-app-cache mr-app-matrix",
			}))
		})

		It("should tolerate an already linked service", func() {
			runner.reply = func(command string) (string, error) {
				return "", &CommandError{Command: command, Stderr: "service already linked to app", ExitCode: 1}
			}

			Expect(client.LinkDatabase(ctx, "mr-app-db", "mr-app-backend")).To(Succeed())
		})
	})

	Describe("routing and deployment verbs", func() {
		It("should build domain, TLS, limit and deploy commands", func() {
			Expect(client.AddDomain(ctx, "mr-app-frontend", "starter-1.mindroom.cloud")).To(Succeed())
			Expect(client.EnableTLS(ctx, "mr-app-frontend")).To(Succeed())
			Expect(client.SetResourceLimits(ctx, "mr-app-frontend", "512m", "0.5")).To(Succeed())
			Expect(client.DeployImage(ctx, "mr-app-frontend", "ghcr.io/mindroom-ai/frontend:latest")).To(Succeed())

			Expect(runner.commands).To(Equal([]string{
				"dokku domains:add mr-app-frontend starter-1.mindroom.cloud",
				"dokku letsencrypt:enable mr-app-frontend",
				"dokku resource:limit --memory 512m --cpu 0.5 mr-app-frontend",
				"dokku git:from-image mr-app-frontend ghcr.io/mindroom-ai/frontend:latest",
			}))
		})

		It("should omit absent limit flags", func() {
			Expect(client.SetResourceLimits(ctx, "mr-app", "1g", "")).To(Succeed())
			Expect(runner.commands).To(ConsistOf("dokku resource:limit --memory 1g mr-app"))
		})
	})

	Describe("lifecycle verbs", func() {
		It("should build ps commands", func() {
			Expect(client.StartApp(ctx, "mr-app")).To(Succeed())
			Expect(client.StopApp(ctx, "mr-app")).To(Succeed())
			Expect(client.RestartApp(ctx, "mr-app")).To(Succeed())

			Expect(runner.commands).To(Equal([]string{
				"dokku ps:start mr-app",
				"dokku ps:stop mr-app",
				"dokku ps:restart mr-app",
			}))
		})
	})

	Describe("AppURL", func() {
		It("should trim the remote output", func() {
			runner.reply = func(string) (string, error) {
				return "https://starter-1.mindroom.cloud\n", nil
			}

			url, err := client.AppURL(ctx, "mr-app-frontend")

			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://starter-1.mindroom.cloud"))
		})
	})

	Describe("error typing", func() {
		It("should surface command failures as CommandError", func() {
			runner.reply = func(command string) (string, error) {
				return "", &CommandError{Command: command, Stderr: "boom", ExitCode: 2}
			}

			err := client.StartApp(ctx, "mr-app")

			Expect(err).To(HaveOccurred())
			var cmdErr *CommandError
			Expect(errors.As(err, &cmdErr)).To(BeTrue())
			Expect(cmdErr.ExitCode).To(Equal(2))
			Expect(cmdErr.Stderr).To(Equal("boom"))
			Expect(IsCommandError(err)).To(BeTrue())
		})
	})
})

var _ = Describe("Client", func() {
	Describe("Connect", func() {
		It("should fail fast when no credential material is configured", func() {
			client := NewClient(Config{Host: "paas.mindroom.cloud"})

			err := client.Connect(context.Background())

			Expect(err).To(HaveOccurred())
			Expect(IsConfigurationError(err)).To(BeTrue())
		})

		It("should fail fast for an unreadable key file", func() {
			client := NewClient(Config{Host: "paas.mindroom.cloud", KeyPath: "/does/not/exist"})

			err := client.Connect(context.Background())

			Expect(err).To(HaveOccurred())
			Expect(IsConfigurationError(err)).To(BeTrue())
		})
	})

	Describe("Execute", func() {
		It("should reject commands on a disconnected client", func() {
			client := NewClient(Config{Host: "paas.mindroom.cloud", Password: "secret"})

			_, err := client.Execute(context.Background(), "dokku apps:list")

			Expect(err).To(HaveOccurred())
			Expect(IsConfigurationError(err)).To(BeTrue())
		})
	})
})
