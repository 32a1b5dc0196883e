// Package processortest provides an in-memory processor for tests.
package processortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/ridepay-backend/internal/processor"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

type intentState struct {
	status   processor.Status
	amount   int64
	received int64
	refunded int64
	charge   string
	metadata map[string]string
}

// Fake mimics the processor's state machine. Captures of succeeded intents
// replay successfully; captures in any other non-capturable state conflict.
type Fake struct {
	mu sync.Mutex

	intents map[string]*intentState
	seq     int

	// CreateStatus is the status new intents start in. Defaults to requires_capture.
	CreateStatus processor.Status
	// StatusBeforeCapture, when set, moves the intent to this status inside
	// Capture before the capture is applied, as if another actor got there first.
	StatusBeforeCapture processor.Status
	// EmptyCapture makes Capture report success without returning an intent.
	EmptyCapture bool

	AuthorizeErr error
	CaptureErr   error
	CancelErr    error
	RefundErr    error
	FetchErr     error

	AuthorizeCalls int
	CaptureCalls   int
	Charges        int
	CancelCalls    int
	RefundCalls    int
	FetchCalls     int
}

func New() *Fake {
	return &Fake{intents: make(map[string]*intentState)}
}

func (f *Fake) CreateAuthorization(ctx context.Context, req processor.AuthorizationRequest) (*processor.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AuthorizeCalls++
	if f.AuthorizeErr != nil {
		return nil, f.AuthorizeErr
	}
	f.seq++
	id := fmt.Sprintf("pi_fake_%d", f.seq)
	status := f.CreateStatus
	if status == "" {
		status = processor.StatusRequiresCapture
	}
	f.intents[id] = &intentState{status: status, amount: req.Amount, metadata: req.Metadata}
	return &processor.Intent{ID: id, Status: status, ClientSecret: id + "_secret", Amount: req.Amount}, nil
}

func (f *Fake) Capture(ctx context.Context, intentID string, idempotencyKey string) (*processor.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CaptureCalls++
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	if f.EmptyCapture {
		return nil, nil
	}
	st, ok := f.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "processor intent not found")
	}
	if f.StatusBeforeCapture != "" {
		st.status = f.StatusBeforeCapture
	}
	switch st.status {
	case processor.StatusRequiresCapture:
		f.Charges++
		st.status = processor.StatusSucceeded
		st.received = st.amount
		st.charge = fmt.Sprintf("ch_fake_%s", intentID)
	case processor.StatusSucceeded:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "capture not allowed in current processor state").
			WithDetails(processor.StateDetails{ProcessorStatus: st.status})
	}
	return f.snapshot(intentID, st), nil
}

func (f *Fake) Cancel(ctx context.Context, intentID string, reason processor.CancelReason) (*processor.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CancelCalls++
	if f.CancelErr != nil {
		return nil, f.CancelErr
	}
	st, ok := f.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "processor intent not found")
	}
	switch st.status {
	case processor.StatusSucceeded, processor.StatusProcessing:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cancel not allowed in current processor state").
			WithDetails(processor.StateDetails{ProcessorStatus: st.status})
	}
	st.status = processor.StatusCanceled
	return f.snapshot(intentID, st), nil
}

func (f *Fake) Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*processor.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefundCalls++
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	st, ok := f.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "processor intent not found")
	}
	if st.status != processor.StatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund not allowed in current processor state")
	}
	if st.refunded+amount > st.received {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds captured amount")
	}
	st.refunded += amount
	return &processor.Refund{ID: "re_" + idempotencyKey, Status: "succeeded", Amount: amount}, nil
}

func (f *Fake) FetchStatus(ctx context.Context, intentID string) (*processor.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls++
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	st, ok := f.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "processor intent not found")
	}
	return f.snapshot(intentID, st), nil
}

// SetStatus forces the remote status, e.g. to simulate a capture that
// completed remotely before the local write.
func (f *Fake) SetStatus(intentID string, status processor.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.intents[intentID]; ok {
		st.status = status
		if status == processor.StatusSucceeded && st.received == 0 {
			st.received = st.amount
			st.charge = fmt.Sprintf("ch_fake_%s", intentID)
		}
	}
}

// Status returns the remote status of an intent.
func (f *Fake) Status(intentID string) processor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.intents[intentID]; ok {
		return st.status
	}
	return ""
}

// Metadata returns the metadata an intent was created with.
func (f *Fake) Metadata(intentID string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.intents[intentID]; ok {
		return st.metadata
	}
	return nil
}

// Counts returns a consistent snapshot of call counters.
func (f *Fake) Counts() (captures, charges, cancels, refunds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CaptureCalls, f.Charges, f.CancelCalls, f.RefundCalls
}

func (f *Fake) snapshot(id string, st *intentState) *processor.Intent {
	return &processor.Intent{
		ID:             id,
		Status:         st.status,
		ChargeRef:      st.charge,
		Amount:         st.amount,
		AmountReceived: st.received,
		AmountRefunded: st.refunded,
		FullyRefunded:  st.received > 0 && st.refunded >= st.received,
	}
}

var _ processor.Processor = (*Fake)(nil)
