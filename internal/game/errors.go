package game

import "errors"

// Error tags are returned verbatim to clients in acknowledgments, so the
// message text is the wire contract.
var (
	// not-found
	ErrRoomNotFound       = errors.New("RoomNotFound")
	ErrPlayerSlotNotFound = errors.New("PlayerSlotNotFound")
	ErrPlayerNotInRoom    = errors.New("PlayerNotInRoom")
	ErrEnemyNotFound      = errors.New("EnemyNotFound")
	ErrLeaderNotFound     = errors.New("LeaderNotFound")

	// authorization / validation
	ErrWrongSecret                = errors.New("WrongSecret")
	ErrRoomFull                   = errors.New("RoomFull")
	ErrRoomAlreadyStarted         = errors.New("RoomAlreadyStarted")
	ErrInvalidEnemyType           = errors.New("InvalidEnemyType")
	ErrPlayerPositionUnknown      = errors.New("PlayerPositionUnknown")
	ErrWrongZone                  = errors.New("WrongZone")
	ErrOutOfRange                 = errors.New("OutOfRange")
	ErrEnemyAlreadyDead           = errors.New("EnemyAlreadyDead")
	ErrLeaderOnly                 = errors.New("LeaderOnly")
	ErrLeaderShouldResolveLocally = errors.New("LeaderShouldResolveLocally")

	// state
	ErrRoomNotActive = errors.New("RoomNotActive")
)
