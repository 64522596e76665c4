package services

import "errors"

// Sentinel errors shared across services. Handlers map these onto HTTP
// statuses; everything else is treated as a storage failure.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrNoActiveStock     = errors.New("user has no active promotion")
	ErrNoFreeCredit      = errors.New("no unused free hookah available")
	ErrCreditAlreadyUsed = errors.New("free hookah was consumed concurrently")
	ErrNothingToRemove   = errors.New("no regular hookahs to remove")
	ErrRequestPending    = errors.New("a pending free hookah request already exists")
	ErrRequestNotPending = errors.New("request was already processed")
	ErrRequestNotFound   = errors.New("request not found")
	ErrHistoryNotFound   = errors.New("hookah history entry not found")
	ErrNotReviewOwner    = errors.New("only your own hookahs can be reviewed")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrAlreadyReviewed   = errors.New("this hookah was already reviewed")
)
