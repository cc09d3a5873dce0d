package trade

import (
	"errors"
	"net/http"

	"github.com/atmx/settlement-engine/internal/engine"
	"github.com/atmx/settlement-engine/internal/feed"
	"github.com/atmx/settlement-engine/internal/fees"
	"github.com/atmx/settlement-engine/internal/pair"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/vault"
	"github.com/atmx/settlement-engine/internal/wallet"
)

// statusCodes maps domain errors to HTTP status codes. The first match in
// the error chain wins.
var statusCodes = []struct {
	err    error
	status int
}{
	{engine.ErrPairNotFound, http.StatusNotFound},
	{engine.ErrOrderNotFound, http.StatusNotFound},
	{engine.ErrPositionNotFound, http.StatusNotFound},
	{store.ErrNotFound, http.StatusNotFound},

	{engine.ErrUnauthorized, http.StatusForbidden},
	{engine.ErrNotOwner, http.StatusForbidden},
	{feed.ErrInvalidProof, http.StatusForbidden},

	{engine.ErrPairExists, http.StatusConflict},
	{engine.ErrPairPaused, http.StatusConflict},
	{engine.ErrSoftBreak, http.StatusConflict},
	{engine.ErrHardBreak, http.StatusConflict},
	{engine.ErrPriceNotExecutable, http.StatusConflict},
	{engine.ErrCooldownActive, http.StatusConflict},
	{engine.ErrExitConditionNotMet, http.StatusConflict},
	{engine.ErrMaxOpenInterest, http.StatusConflict},
	{feed.ErrStalePrice, http.StatusConflict},
	{feed.ErrNoPrice, http.StatusConflict},

	{wallet.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{vault.ErrInsufficientLiquidity, http.StatusServiceUnavailable},

	{pair.ErrInvalidKey, http.StatusBadRequest},
	{pair.ErrInvalidConfig, http.StatusBadRequest},
	{feed.ErrInvalidPrice, http.StatusBadRequest},
	{wallet.ErrInvalidAmount, http.StatusBadRequest},
	{fees.ErrSelfReferral, http.StatusBadRequest},
	{engine.ErrZeroPrice, http.StatusBadRequest},
	{engine.ErrNotWhole, http.StatusBadRequest},
	{engine.ErrZeroCollateral, http.StatusBadRequest},
	{engine.ErrInvalidSize, http.StatusBadRequest},
	{engine.ErrInvalidCollateral, http.StatusBadRequest},
	{engine.ErrOrderCollateralTooLow, http.StatusBadRequest},
	{engine.ErrPositionCollateral, http.StatusBadRequest},
	{engine.ErrPositionSizeTooSmall, http.StatusBadRequest},
	{engine.ErrInsufficientSize, http.StatusBadRequest},
	{engine.ErrLeverageOutOfBounds, http.StatusBadRequest},
	{engine.ErrEntryFeeExceedsDeposit, http.StatusBadRequest},
}

func statusFor(err error) int {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.status
		}
	}
	return http.StatusInternalServerError
}
