package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mindroom-ai/instance-orchestrator/internal/constants"
	"github.com/mindroom-ai/instance-orchestrator/internal/naming"
	"github.com/mindroom-ai/instance-orchestrator/internal/store"
	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

const waitTimeout = 5 * time.Second

var _ = Describe("Orchestrator", func() {
	var (
		ctx          context.Context
		db           *gorm.DB
		dataStore    store.Store
		host         *fakeHost
		orchestrator *Orchestrator
	)

	provisionRequest := ProvisionRequest{
		SubscriptionID: "sub-1",
		AccountID:      "acct-12345678",
		Tier:           naming.TierStarter,
		Limits:         map[string]any{"max_agents": 5, "max_messages_per_day": 5000},
	}

	waitFor := func(task *Task) error {
		waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
		defer cancel()
		return task.Wait(waitCtx)
	}

	provisionRunning := func() *model.Instance {
		instance, task, err := orchestrator.StartProvision(ctx, provisionRequest)
		Expect(err).NotTo(HaveOccurred())
		Expect(waitFor(task)).To(Succeed())
		running, err := orchestrator.GetInstance(ctx, instance.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(running.Status).To(Equal(model.StatusRunning))
		return running
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Migrate(db)).To(Succeed())

		dataStore = store.NewStore(db)
		host = newFakeHost()
		orchestrator = NewOrchestrator(dataStore, host.dial, Options{
			BaseDomain:    "mindroom.cloud",
			ImageRegistry: "ghcr.io/mindroom-ai",
			ImageTag:      "latest",
		})
	})

	AfterEach(func() {
		Expect(dataStore.Close()).To(Succeed())
	})

	Describe("StartProvision", func() {
		It("should persist exactly one provisioning row before returning", func() {
			instance, task, err := orchestrator.StartProvision(ctx, provisionRequest)

			Expect(err).NotTo(HaveOccurred())
			Expect(instance.ID).NotTo(Equal(uuid.Nil))
			Expect(instance.Status).To(Equal(model.StatusProvisioning))
			Expect(instance.AppName).To(MatchRegexp(`^mindroom-acct1234-\d+$`))
			Expect(instance.Subdomain).To(MatchRegexp(`^starter-\d+$`))

			instances, listErr := dataStore.Instance().List(ctx)
			Expect(listErr).NotTo(HaveOccurred())
			Expect(instances).To(HaveLen(1))

			Expect(waitFor(task)).To(Succeed())
		})

		It("should reject requests without a subscription", func() {
			_, _, err := orchestrator.StartProvision(ctx, ProvisionRequest{AccountID: "acct-1"})

			Expect(IsValidation(err)).To(BeTrue())
		})

		It("should reject a subscription that already has a live instance", func() {
			provisionRunning()

			_, _, err := orchestrator.StartProvision(ctx, provisionRequest)

			Expect(IsValidation(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("already has an instance"))
		})

		It("should materialize the full stack and mark the instance running", func() {
			instance := provisionRunning()

			apps := naming.AppsFor(instance.AppName)
			Expect(host.appNames()).To(ConsistOf(apps.Main, apps.Backend, apps.Frontend, apps.Matrix))
			Expect(host.databases).To(HaveKey(naming.DatabaseName(instance.AppName)))
			Expect(host.caches).To(HaveKey(naming.CacheName(instance.AppName)))
			Expect(host.dbLinks[naming.DatabaseName(instance.AppName)]).To(ConsistOf(apps.Backend, apps.Matrix))
			Expect(host.cacheLink[naming.CacheName(instance.AppName)]).To(ConsistOf(apps.Backend, apps.Matrix))

			Expect(instance.FrontendURL).To(Equal("https://" + instance.Subdomain + ".mindroom.cloud"))
			Expect(instance.BackendURL).To(Equal("https://api-" + instance.Subdomain + ".mindroom.cloud"))
			Expect(instance.MessagingServerURL).To(Equal("https://matrix-" + instance.Subdomain + ".mindroom.cloud"))
			Expect(instance.Config).To(HaveKeyWithValue(constants.ConfigKeyPhase, "complete"))

			// cross-references pushed into the environment
			Expect(host.config[apps.Frontend]).To(HaveKeyWithValue(constants.EnvBackendURL, instance.BackendURL))
			Expect(host.config[apps.Backend]).To(HaveKeyWithValue(constants.EnvInstanceID, instance.ID.String()))

			// TLS, images and starter limits on the user-facing apps
			for _, app := range apps.UserFacing() {
				Expect(host.tls[app]).To(BeTrue())
				Expect(host.deployed[app]).NotTo(BeEmpty())
				Expect(host.limits[app]).To(Equal([2]string{"512m", "0.5"}))
			}
			Expect(host.deployed[apps.Backend]).To(Equal("ghcr.io/mindroom-ai/backend:latest"))

			// the workflow's session is always released
			Expect(host.closeCount).To(Equal(host.dialCount))
		})

		It("should mark the instance failed and clean up when the database step fails", func() {
			host.failOn["create-database"] = errors.New("postgres:create failed")

			instance, task, err := orchestrator.StartProvision(ctx, provisionRequest)
			Expect(err).NotTo(HaveOccurred())
			Expect(waitFor(task)).To(HaveOccurred())

			failed, err := orchestrator.GetInstance(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(failed.Status).To(Equal(model.StatusFailed))
			Expect(failed.ErrorMessage).NotTo(BeEmpty())
			Expect(failed.ErrorMessage).To(ContainSubstring("postgres:create failed"))

			// cleanup destroyed every application that had been created
			Expect(host.appNames()).To(BeEmpty())

			// the row survives for operator inspection and retry
			instances, listErr := dataStore.Instance().List(ctx)
			Expect(listErr).NotTo(HaveOccurred())
			Expect(instances).To(HaveLen(1))
		})

		It("should mark the instance failed when the session cannot be acquired", func() {
			host.dialErr = errors.New("dial tcp: connection refused")

			instance, task, err := orchestrator.StartProvision(ctx, provisionRequest)
			Expect(err).NotTo(HaveOccurred())
			Expect(waitFor(task)).To(HaveOccurred())

			failed, err := orchestrator.GetInstance(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(failed.Status).To(Equal(model.StatusFailed))
		})

		It("should retry a failed instance in place, keeping the app name", func() {
			host.failOn["create-cache"] = errors.New("redis:create failed")
			first, task, err := orchestrator.StartProvision(ctx, provisionRequest)
			Expect(err).NotTo(HaveOccurred())
			Expect(waitFor(task)).To(HaveOccurred())

			delete(host.failOn, "create-cache")

			second, task, err := orchestrator.StartProvision(ctx, provisionRequest)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.AppName).To(Equal(first.AppName))
			Expect(waitFor(task)).To(Succeed())

			retried, err := orchestrator.GetInstance(ctx, first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(retried.Status).To(Equal(model.StatusRunning))
			Expect(retried.ErrorMessage).To(BeEmpty())
		})

		It("should leave a failed row untouched when a retry loses the lock race", func() {
			host.failOn["create-cache"] = errors.New("redis:create failed")
			first, task, err := orchestrator.StartProvision(ctx, provisionRequest)
			Expect(err).NotTo(HaveOccurred())
			Expect(waitFor(task)).To(HaveOccurred())

			delete(host.failOn, "create-cache")

			unlock, err := orchestrator.tryLock(first.ID)
			Expect(err).NotTo(HaveOccurred())
			defer unlock()

			_, _, err = orchestrator.StartProvision(ctx, provisionRequest)
			Expect(err).To(MatchError(ErrOperationInProgress))

			current, getErr := orchestrator.GetInstance(ctx, first.ID)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(current.Status).To(Equal(model.StatusFailed))
			Expect(current.ErrorMessage).To(ContainSubstring("redis:create failed"))
		})

		It("should apply the tier's limits with a starter fallback for unknown tiers", func() {
			request := provisionRequest
			request.Tier = "platinum"

			instance, task, err := orchestrator.StartProvision(ctx, request)
			Expect(err).NotTo(HaveOccurred())
			Expect(waitFor(task)).To(Succeed())

			for _, app := range naming.AppsFor(instance.AppName).UserFacing() {
				Expect(host.limits[app]).To(Equal([2]string{"512m", "0.5"}))
			}
		})
	})

	Describe("StartDeprovision", func() {
		It("should destroy all applications and delete the row", func() {
			instance := provisionRunning()

			task, err := orchestrator.StartDeprovision(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(waitFor(task)).To(Succeed())

			Expect(host.appNames()).To(BeEmpty())
			_, err = orchestrator.GetInstance(ctx, instance.ID)
			Expect(IsNotFound(err)).To(BeTrue())
		})

		It("should not raise for a partially-created failed instance", func() {
			host.failOn["create-app"] = errors.New("apps:create failed")
			instance, task, err := orchestrator.StartProvision(ctx, provisionRequest)
			Expect(err).NotTo(HaveOccurred())
			Expect(waitFor(task)).To(HaveOccurred())

			delete(host.failOn, "create-app")

			task, err = orchestrator.StartDeprovision(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(waitFor(task)).To(Succeed())

			_, err = orchestrator.GetInstance(ctx, instance.ID)
			Expect(IsNotFound(err)).To(BeTrue())
		})

		It("should stay deprovisioning when the session cannot be acquired", func() {
			instance := provisionRunning()
			host.dialErr = errors.New("dial tcp: connection refused")

			task, err := orchestrator.StartDeprovision(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(waitFor(task)).To(HaveOccurred())

			// the destroy pass can be re-issued; only the error is recorded
			current, getErr := orchestrator.GetInstance(ctx, instance.ID)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(current.Status).To(Equal(model.StatusDeprovisioning))
			Expect(current.ErrorMessage).To(ContainSubstring("connection refused"))
		})

		It("should report not-found for an unknown instance", func() {
			_, err := orchestrator.StartDeprovision(ctx, uuid.New())

			Expect(IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("lifecycle operations", func() {
		It("should stop and start all four applications", func() {
			instance := provisionRunning()
			apps := naming.AppsFor(instance.AppName)

			Expect(orchestrator.Stop(ctx, instance.ID)).To(Succeed())
			stopped, err := orchestrator.GetInstance(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stopped.Status).To(Equal(model.StatusStopped))
			for _, app := range apps.All() {
				Expect(host.stopped[app]).To(BeTrue())
			}

			Expect(orchestrator.Start(ctx, instance.ID)).To(Succeed())
			started, err := orchestrator.GetInstance(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(started.Status).To(Equal(model.StatusRunning))
			Expect(host.stopped).To(BeEmpty())
		})

		It("should reject starting an instance that is already running", func() {
			instance := provisionRunning()

			err := orchestrator.Start(ctx, instance.ID)

			Expect(IsValidation(err)).To(BeTrue())
		})

		It("should attempt every application even when one verb fails", func() {
			instance := provisionRunning()
			apps := naming.AppsFor(instance.AppName)
			host.failOn["stop-app "+apps.Backend] = errors.New("ps:stop failed")

			err := orchestrator.Stop(ctx, instance.ID)

			Expect(err).To(HaveOccurred())
			Expect(host.verbCount("stop-app")).To(Equal(4))

			// partial application is surfaced, not hidden behind a status change
			current, getErr := orchestrator.GetInstance(ctx, instance.ID)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(current.Status).To(Equal(model.StatusRunning))
		})

		It("should restart through the transitional restarting status", func() {
			instance := provisionRunning()

			Expect(orchestrator.Restart(ctx, instance.ID)).To(Succeed())

			restarted, err := orchestrator.GetInstance(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(restarted.Status).To(Equal(model.StatusRunning))
			Expect(host.verbCount("restart-app")).To(Equal(4))
		})

		It("should reject overlapping operations on the same instance", func() {
			instance := provisionRunning()

			unlock, err := orchestrator.tryLock(instance.ID)
			Expect(err).NotTo(HaveOccurred())
			defer unlock()

			Expect(orchestrator.Stop(ctx, instance.ID)).To(MatchError(ErrOperationInProgress))
		})
	})

	Describe("Scale", func() {
		It("should reject a request with neither memory nor cpu before any remote call", func() {
			instance := provisionRunning()
			dialsBefore := host.dialCount

			err := orchestrator.Scale(ctx, instance.ID, "", "")

			Expect(IsValidation(err)).To(BeTrue())
			Expect(host.dialCount).To(Equal(dialsBefore))
		})

		It("should apply the limits to the user-facing applications and merge the config", func() {
			instance := provisionRunning()
			apps := naming.AppsFor(instance.AppName)

			Expect(orchestrator.Scale(ctx, instance.ID, "1g", "")).To(Succeed())

			for _, app := range apps.UserFacing() {
				Expect(host.limits[app]).To(Equal([2]string{"1g", ""}))
			}

			scaled, err := orchestrator.GetInstance(ctx, instance.ID)
			Expect(err).NotTo(HaveOccurred())
			resources, ok := scaled.Config[constants.ConfigKeyResources].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(resources).To(HaveKeyWithValue("memory", "1g"))
		})
	})
})
