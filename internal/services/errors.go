package services

import "errors"

var (
	// ErrStoryInvalidInput indicates the prompt or command failed validation.
	ErrStoryInvalidInput = errors.New("story: invalid input")
	// ErrStoryNotFound indicates the story does not exist in the caller's library.
	ErrStoryNotFound = errors.New("story: not found")
	// ErrStoryQuotaExceeded indicates the free monthly allowance is used up.
	ErrStoryQuotaExceeded = errors.New("story: monthly quota exceeded")
	// ErrStoryRateLimited indicates the caller is generating too quickly.
	ErrStoryRateLimited = errors.New("story: rate limited")
	// ErrStoryExportRequiresPremium indicates exports are limited to premium subscribers.
	ErrStoryExportRequiresPremium = errors.New("story: export requires premium")
	// ErrStoryExportUnavailable indicates export storage is not configured.
	ErrStoryExportUnavailable = errors.New("story: export unavailable")
	// ErrStoryUnavailable indicates the story store failed.
	ErrStoryUnavailable = errors.New("story: unavailable")

	// ErrSubscriptionInvalidInput indicates a malformed subscription request.
	ErrSubscriptionInvalidInput = errors.New("subscription: invalid input")
	// ErrSubscriptionUnavailable indicates the subscription store failed.
	ErrSubscriptionUnavailable = errors.New("subscription: unavailable")
	// ErrCheckoutUnavailable indicates billing is not configured.
	ErrCheckoutUnavailable = errors.New("subscription: checkout unavailable")
	// ErrCheckoutFailed indicates the payment processor rejected the request.
	ErrCheckoutFailed = errors.New("subscription: checkout failed")
	// ErrAlreadyPremium indicates the user already holds an active premium subscription.
	ErrAlreadyPremium = errors.New("subscription: already premium")
)
