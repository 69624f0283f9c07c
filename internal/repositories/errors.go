package repositories

import "errors"

// ErrQuotaExhausted is returned by SubscriptionRepository.Consume when a free
// subscription has no stories left.
var ErrQuotaExhausted = errors.New("subscription repository: monthly quota exhausted")
