package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Callers classify with errors.Is; wrapped context never
// carries key material.
var (
	ErrValidation              = errors.New("validation error")
	ErrProving                 = errors.New("proving error")
	ErrProofInvalid            = errors.New("proof invalid")
	ErrSignatureInvalid        = errors.New("spend authorization signature invalid")
	ErrBalanceInvalid          = errors.New("value balance invalid")
	ErrBindingSignatureInvalid = errors.New("binding signature invalid")
	ErrDecryptionFailed        = errors.New("decryption failed")
	ErrMissingSignatures       = errors.New("missing spend authorization signatures")
	ErrAnchorInvalid           = errors.New("unknown anchor")
	ErrDoubleSpend             = errors.New("nullifier already revealed")
)

// SignatureError reports the Action whose spend authorization failed.
type SignatureError struct {
	Index int
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s: action %d", ErrSignatureInvalid, e.Index)
}

func (e *SignatureError) Is(target error) bool {
	return target == ErrSignatureInvalid
}

func validationf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
