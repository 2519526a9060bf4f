package verifier

import (
	"context"
	"time"
)

// Verifier is the trust boundary for signature checks. Implementations
// must hold both conditions: the signature is valid for message under
// publicKey, and publicKey belongs to stakeKey. A failed check returns
// (false, nil); an error is reserved for unparseable inputs.
type Verifier interface {
	Verify(ctx context.Context, signature, publicKey, message []byte, stakeKey string) (bool, error)
}

type timeoutVerifier struct {
	inner   Verifier
	timeout time.Duration
}

// WithTimeout bounds every Verify call. An expired deadline reports as a
// verification failure, never as a retryable fault, so a slow backend can
// not be retried into a double mint.
func WithTimeout(inner Verifier, timeout time.Duration) Verifier {
	if timeout <= 0 {
		return inner
	}
	return &timeoutVerifier{inner: inner, timeout: timeout}
}

type verifyResult struct {
	ok  bool
	err error
}

func (t *timeoutVerifier) Verify(ctx context.Context, signature, publicKey, message []byte, stakeKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan verifyResult, 1)
	go func() {
		ok, err := t.inner.Verify(ctx, signature, publicKey, message, stakeKey)
		done <- verifyResult{ok: ok, err: err}
	}()

	select {
	case res := <-done:
		return res.ok, res.err
	case <-ctx.Done():
		return false, nil
	}
}
