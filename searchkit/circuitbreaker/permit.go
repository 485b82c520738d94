package circuitbreaker

import (
	"sync"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
)

// Permit is the right to make one call through a breaker. The first call to
// Success or Failure settles it; later calls are ignored.
type Permit struct {
	backend backend.Identity
	done    func(success bool)
	manager *manager
	trial   bool
	once    sync.Once
}

// Backend returns the backend the permit was issued for.
func (p *Permit) Backend() backend.Identity {
	return p.backend
}

// Success reports a successful call.
func (p *Permit) Success() {
	p.settle(true)
}

// Failure reports a failed call. Timeouts count as failures.
func (p *Permit) Failure() {
	p.settle(false)
}

// Release abandons the call without an outcome, for example when the caller
// cancelled it. A half-open trial cannot be left unresolved, so releasing it
// counts as a failure; in every other state the breaker is left untouched.
func (p *Permit) Release() {
	if p == nil {
		return
	}

	if p.trial {
		p.settle(false)
		return
	}

	p.once.Do(func() {
		if p.manager != nil {
			p.manager.recordExecution(p.backend, "released")
		}
	})
}

func (p *Permit) settle(success bool) {
	if p == nil {
		return
	}

	p.once.Do(func() {
		p.done(success)

		if p.manager != nil {
			result := "success"
			if !success {
				result = "failure"
			}

			p.manager.recordExecution(p.backend, result)
		}
	})
}
