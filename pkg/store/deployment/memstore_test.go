package deployment_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/google/uuid"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	"github.com/risedev/deployctl/pkg/statemachine"
	"github.com/risedev/deployctl/pkg/store/deployment"
)

// BR-STORE-001: at-most-one-active-per-group invariant (spec §3, §8).
var _ = Describe("MemStore", func() {
	var (
		ctx     context.Context
		store   *deployment.MemStore
		project uuid.UUID
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = deployment.NewMemStore()
		project = uuid.New()
	})

	It("enforces at most one active deployment per (project, group)", func() {
		a, err := store.Create(ctx, apideployment.CreateParams{ProjectID: project, ShortID: "a"})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.UpdateStatus(ctx, a.ID, statemachine.Building)).To(Succeed())
		Expect(store.UpdateStatus(ctx, a.ID, statemachine.Pushed)).To(Succeed())
		Expect(store.UpdateStatus(ctx, a.ID, statemachine.Deploying)).To(Succeed())
		Expect(store.UpdateStatus(ctx, a.ID, statemachine.Healthy)).To(Succeed())

		prev, err := store.MarkAsActive(ctx, a.ID, project, "default")
		Expect(err).NotTo(HaveOccurred())
		Expect(prev).To(BeNil())

		b, err := store.Create(ctx, apideployment.CreateParams{ProjectID: project, ShortID: "b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.UpdateStatus(ctx, b.ID, statemachine.Building)).To(Succeed())
		Expect(store.UpdateStatus(ctx, b.ID, statemachine.Pushed)).To(Succeed())
		Expect(store.UpdateStatus(ctx, b.ID, statemachine.Deploying)).To(Succeed())
		Expect(store.UpdateStatus(ctx, b.ID, statemachine.Healthy)).To(Succeed())

		prev, err = store.MarkAsActive(ctx, b.ID, project, "default")
		Expect(err).NotTo(HaveOccurred())
		Expect(prev).NotTo(BeNil())
		Expect(prev.ID).To(Equal(a.ID))

		reloadedA, err := store.Get(ctx, a.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloadedA.IsActive).To(BeFalse())

		reloadedB, err := store.Get(ctx, b.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloadedB.IsActive).To(BeTrue())
	})

	It("refuses to activate a non-Healthy deployment", func() {
		d, err := store.Create(ctx, apideployment.CreateParams{ProjectID: project, ShortID: "c"})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.MarkAsActive(ctx, d.ID, project, "default")
		Expect(err).To(HaveOccurred())
	})

	It("rejects transitions the state machine disallows", func() {
		d, err := store.Create(ctx, apideployment.CreateParams{ProjectID: project, ShortID: "d"})
		Expect(err).NotTo(HaveOccurred())
		err = store.UpdateStatus(ctx, d.ID, statemachine.Healthy)
		Expect(err).To(HaveOccurred())
	})

	It("never mutates a terminal row again", func() {
		d, err := store.Create(ctx, apideployment.CreateParams{ProjectID: project, ShortID: "e"})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.MarkFailed(ctx, d.ID, "boom")).To(Succeed())
		err = store.UpdateStatus(ctx, d.ID, statemachine.Building)
		Expect(err).To(HaveOccurred())
	})

	It("rejects duplicate (project, short id) creation", func() {
		_, err := store.Create(ctx, apideployment.CreateParams{ProjectID: project, ShortID: "dup"})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Create(ctx, apideployment.CreateParams{ProjectID: project, ShortID: "dup"})
		Expect(err).To(HaveOccurred())
	})

	It("finds non-terminal deployments oldest-updated first", func() {
		f1, err := store.Create(ctx, apideployment.CreateParams{ProjectID: project, ShortID: "f1"})
		Expect(err).NotTo(HaveOccurred())
		f2, err := store.Create(ctx, apideployment.CreateParams{ProjectID: project, ShortID: "f2"})
		Expect(err).NotTo(HaveOccurred())
		store.TestSetUpdatedAt(f1.ID, time.Now())
		store.TestSetUpdatedAt(f2.ID, time.Now().Add(-time.Minute))
		found, err := store.FindNonTerminal(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(HaveLen(2))
		Expect(found[0].ID).To(Equal(f2.ID))
	})
})
