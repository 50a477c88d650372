package coordinator

import (
	"errors"

	"github.com/cory-johannsen/massgravity/internal/game/battle"
	"github.com/cory-johannsen/massgravity/internal/identity"
	"github.com/cory-johannsen/massgravity/internal/protocol"
)

// Failure classes surfaced by event handlers. None of them are fatal; each is
// confined to the player or pair involved.
var (
	ErrUnauthenticated  = identity.ErrUnauthenticated
	ErrTargetOffline    = errors.New("target offline")
	ErrRequesterOffline = errors.New("requester offline")
	ErrNoSuchInvitation = battle.ErrNoSuchInvitation
	ErrNoSuchRoom       = battle.ErrNoSuchRoom
	ErrPersistence      = errors.New("persistence failure")
	ErrMalformedEvent   = protocol.ErrMalformed
	ErrUnknownEvent     = errors.New("unknown event")
)
