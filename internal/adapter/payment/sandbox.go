package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/farmlink/market-api/internal/usecase"
)

var ErrUnknownReference = errors.New("unknown transaction reference")

// Sandbox is an in-process gateway for development and tests. Initialized
// transactions verify as paid in full unless an outcome was set for them.
type Sandbox struct {
	mu           sync.Mutex
	checkoutBase string
	txs          map[string]usecase.InitializeRequest
	outcomes     map[string]usecase.VerifyResult
	initErr      error
	verifyErr    error
}

func NewSandbox(checkoutBase string) *Sandbox {
	return &Sandbox{
		checkoutBase: checkoutBase,
		txs:          map[string]usecase.InitializeRequest{},
		outcomes:     map[string]usecase.VerifyResult{},
	}
}

var _ usecase.PaymentGateway = (*Sandbox)(nil)

func (s *Sandbox) Initialize(_ context.Context, req usecase.InitializeRequest) (usecase.InitializeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return usecase.InitializeResult{}, s.initErr
	}
	if req.AmountMinor <= 0 {
		return usecase.InitializeResult{}, fmt.Errorf("%w: amount must be positive", ErrRejected)
	}
	s.txs[req.Reference] = req
	return usecase.InitializeResult{
		RedirectURL: s.checkoutBase + "/checkout/" + req.Reference,
		AccessCode:  "sandbox_" + req.Reference,
		Reference:   req.Reference,
	}, nil
}

func (s *Sandbox) Verify(_ context.Context, reference string) (usecase.VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verifyErr != nil {
		return usecase.VerifyResult{}, s.verifyErr
	}
	if res, ok := s.outcomes[reference]; ok {
		return res, nil
	}
	req, ok := s.txs[reference]
	if !ok {
		return usecase.VerifyResult{}, fmt.Errorf("%w: %s", ErrUnknownReference, reference)
	}
	return usecase.VerifyResult{
		Paid:        true,
		Status:      "success",
		AmountMinor: req.AmountMinor,
		Reference:   reference,
		Channel:     "sandbox",
		PaidAt:      time.Now().UTC(),
		Metadata:    req.Metadata,
	}, nil
}

// Initialized returns the request recorded for reference.
func (s *Sandbox) Initialized(reference string) (usecase.InitializeRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.txs[reference]
	return req, ok
}

// SetOutcome overrides what Verify reports for reference.
func (s *Sandbox) SetOutcome(reference string, res usecase.VerifyResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Reference == "" {
		res.Reference = reference
	}
	s.outcomes[reference] = res
}

// Decline makes reference verify as a failed charge, keeping its metadata.
func (s *Sandbox) Decline(reference string) {
	s.mu.Lock()
	req := s.txs[reference]
	s.mu.Unlock()
	s.SetOutcome(reference, usecase.VerifyResult{Status: "failed", Metadata: req.Metadata})
}

func (s *Sandbox) FailInitialize(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initErr = err
}

func (s *Sandbox) FailVerify(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyErr = err
}
