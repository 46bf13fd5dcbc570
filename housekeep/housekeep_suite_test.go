package housekeep_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/nvaistore/partransport/housekeep"
)

func TestHousekeeper(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("Registry", func() {
	var r *housekeep.Registry

	BeforeEach(func() {
		r = housekeep.New()
		go r.Run()
		r.WaitStarted()
	})

	AfterEach(func() {
		r.Stop()
	})

	It("reschedules a periodic task until it returns <=0", func() {
		ticks := 0
		done := make(chan struct{})
		r.Reg("periodic", func() time.Duration {
			ticks++
			if ticks >= 3 {
				close(done)
				return 0
			}
			return time.Millisecond
		}, time.Millisecond)

		Eventually(done, time.Second).Should(BeClosed())
		Expect(ticks).To(Equal(3))
	})

	It("runs a one-shot task exactly once", func() {
		calls := 0
		done := make(chan struct{})
		r.RegOnce("once", time.Millisecond, func() {
			calls++
			close(done)
		})

		Eventually(done, time.Second).Should(BeClosed())
		Consistently(func() int { return calls }, 20*time.Millisecond).Should(Equal(1))
	})

	It("drops an unregistered task before it fires", func() {
		fired := false
		r.Reg("cancel-me", func() time.Duration {
			fired = true
			return 0
		}, 20*time.Millisecond)
		r.Unreg("cancel-me")

		Consistently(func() bool { return fired }, 50*time.Millisecond).Should(BeFalse())
	})
})
