package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInsufficientAmount      = "INSUFFICIENT_AMOUNT"
	ErrorInsufficientBalance     = "INSUFFICIENT_BALANCE"
	ErrorInvalidAsset            = "INVALID_ASSET"
	ErrorInvalidDataLength       = "INVALID_DATA_LENGTH"
	ErrorInvalidInitiator        = "INVALID_INITIATOR"
	ErrorInvalidParametersLength = "INVALID_PARAMETERS_LENGTH"
	ErrorInvalidProvider         = "INVALID_PROVIDER"
	ErrorNotDelegated            = "NOT_DELEGATED"
	ErrorRepaymentFailed         = "REPAYMENT_FAILED"
	ErrorUnauthorizedCallback    = "UNAUTHORIZED_CALLBACK"
	ErrorUnsupportedProtocol     = "UNSUPPORTED_PROTOCOL"
	ErrorUnsupportedSelector     = "UNSUPPORTED_SELECTOR"
	ErrorReentrantInitiate       = "REENTRANT_INITIATE"
	ErrorMalformedCalldata       = "MALFORMED_CALLDATA"
	ErrorAmountOverflow          = "AMOUNT_OVERFLOW"
	ErrorInternal                = "INTERNAL_ERROR"
)

// codeMetadataKey carries the engine code in error metadata. go-errors
// wrappers clone metadata but overwrite TextCode.
const codeMetadataKey = "flashroute_code"

// MaxAmountBits is the width of a uint256 amount.
const MaxAmountBits = 256

func flashError(
	name string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	return goerrors.New("flashroute: "+name, category).
		WithCode(code).
		WithTextCode(textCode).
		WithMetadata(metadata, map[string]any{codeMetadataKey: textCode})
}

func ErrInsufficientAmount() error {
	return flashError("InsufficientAmount", goerrors.CategoryBadInput, http.StatusBadRequest, ErrorInsufficientAmount, nil)
}

func ErrAmountOverflow(bits int) error {
	return flashError("AmountOverflow", goerrors.CategoryBadInput, http.StatusBadRequest, ErrorAmountOverflow, map[string]any{
		"bits":     bits,
		"max_bits": MaxAmountBits,
	})
}

func ErrInsufficientBalance(asset Address, owed string, held string) error {
	return flashError("InsufficientBalance", goerrors.CategoryOperation, http.StatusUnprocessableEntity, ErrorInsufficientBalance, map[string]any{
		"asset":   asset.Hex(),
		"owed":    owed,
		"balance": held,
	})
}

func ErrInvalidAsset(asset Address) error {
	return flashError("InvalidAsset", goerrors.CategoryBadInput, http.StatusBadRequest, ErrorInvalidAsset, map[string]any{
		"asset": asset.Hex(),
	})
}

func ErrInvalidDataLength() error {
	return flashError("InvalidDataLength", goerrors.CategoryBadInput, http.StatusBadRequest, ErrorInvalidDataLength, nil)
}

func ErrInvalidInitiator(initiator Address) error {
	return flashError("InvalidInitiator", goerrors.CategoryAuthz, http.StatusForbidden, ErrorInvalidInitiator, map[string]any{
		"initiator": initiator.Hex(),
	})
}

func ErrInvalidParametersLength(length int) error {
	return flashError("InvalidParametersLength", goerrors.CategoryBadInput, http.StatusBadRequest, ErrorInvalidParametersLength, map[string]any{
		"length": length,
	})
}

func ErrInvalidProvider() error {
	return flashError("InvalidProvider", goerrors.CategoryBadInput, http.StatusBadRequest, ErrorInvalidProvider, nil)
}

func ErrNotDelegated() error {
	return flashError("NotDelegated", goerrors.CategoryAuthz, http.StatusForbidden, ErrorNotDelegated, nil)
}

func ErrRepaymentFailed(asset Address, operation string) error {
	return flashError("RepaymentFailed", goerrors.CategoryExternal, http.StatusBadGateway, ErrorRepaymentFailed, map[string]any{
		"asset":     asset.Hex(),
		"operation": operation,
	})
}

func ErrUnauthorizedCallback(caller Address) error {
	return flashError("UnauthorizedCallback", goerrors.CategoryAuth, http.StatusUnauthorized, ErrorUnauthorizedCallback, map[string]any{
		"caller": caller.Hex(),
	})
}

func ErrUnsupportedProtocol(id ProtocolID) error {
	return flashError(
		fmt.Sprintf("UnsupportedProtocol(%d)", uint8(id)),
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		ErrorUnsupportedProtocol,
		map[string]any{"protocol_id": uint8(id)},
	)
}

func ErrUnsupportedSelector(tag [4]byte) error {
	hex := fmt.Sprintf("0x%x", tag[:])
	return flashError(
		fmt.Sprintf("UnsupportedSelector(%s)", hex),
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		ErrorUnsupportedSelector,
		map[string]any{"selector": hex},
	)
}

func ErrReentrantInitiate() error {
	return flashError("ReentrantInitiate", goerrors.CategoryConflict, http.StatusConflict, ErrorReentrantInitiate, nil)
}

func ErrMalformedCalldata(shape string, source error) error {
	if source == nil {
		return flashError("MalformedCalldata", goerrors.CategoryBadInput, http.StatusBadRequest, ErrorMalformedCalldata, map[string]any{
			"shape": shape,
		})
	}
	return goerrors.Wrap(source, goerrors.CategoryBadInput, "flashroute: MalformedCalldata").
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorMalformedCalldata).
		WithMetadata(map[string]any{"shape": shape, codeMetadataKey: ErrorMalformedCalldata})
}

func ErrInternal(message string, source error) error {
	if source == nil {
		return flashError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorInternal, nil)
	}
	return goerrors.Wrap(source, goerrors.CategoryInternal, "flashroute: "+message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorInternal).
		WithMetadata(map[string]any{codeMetadataKey: ErrorInternal})
}

var taxonomy = map[string]struct{}{
	ErrorInsufficientAmount:      {},
	ErrorInsufficientBalance:     {},
	ErrorInvalidAsset:            {},
	ErrorInvalidDataLength:       {},
	ErrorInvalidInitiator:        {},
	ErrorInvalidParametersLength: {},
	ErrorInvalidProvider:         {},
	ErrorNotDelegated:            {},
	ErrorRepaymentFailed:         {},
	ErrorUnauthorizedCallback:    {},
	ErrorUnsupportedProtocol:     {},
	ErrorUnsupportedSelector:     {},
	ErrorReentrantInitiate:       {},
	ErrorMalformedCalldata:       {},
	ErrorAmountOverflow:          {},
	ErrorInternal:                {},
}

// EngineCode returns the engine taxonomy code carried anywhere in err's
// chain, or "" when err holds none. Wrappers that clone an engine error and
// replace its TextCode keep the code in metadata.
func EngineCode(err error) string {
	code, _ := scanCodes(err)
	return code
}

// TextCode returns the stable text code carried by err, if any. Engine
// codes win over codes added by wrappers such as a command bus.
func TextCode(err error) string {
	code, fallback := scanCodes(err)
	if code != "" {
		return code
	}
	return fallback
}

// scanCodes walks err's chain and returns the first engine code plus the
// outermost foreign code.
func scanCodes(err error) (engine string, foreign string) {
	var walk func(error) bool
	walk = func(current error) bool {
		if current == nil {
			return false
		}
		if rich, ok := current.(*goerrors.Error); ok {
			if code, _ := rich.Metadata[codeMetadataKey].(string); isEngineCode(code) {
				engine = code
				return true
			}
			code := strings.TrimSpace(rich.TextCode)
			if isEngineCode(code) {
				engine = code
				return true
			}
			if foreign == "" {
				foreign = code
			}
		}
		switch wrapped := current.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range wrapped.Unwrap() {
				if walk(inner) {
					return true
				}
			}
		case interface{ Unwrap() error }:
			return walk(wrapped.Unwrap())
		}
		return false
	}
	walk(err)
	return engine, foreign
}

func isEngineCode(code string) bool {
	if code == "" {
		return false
	}
	_, known := taxonomy[code]
	return known
}

func HasTextCode(err error, code string) bool {
	return code != "" && TextCode(err) == code
}
