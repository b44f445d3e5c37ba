package usidto

import "time"

const (
	PlayerBlack = "black"
	PlayerWhite = "white"
	WinnerDraw  = "draw"
)

// EngineRef identifies one side of a match.
type EngineRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// MatchRequest configures an engine-vs-engine game. Zero values take defaults.
type MatchRequest struct {
	Black       EngineRef `json:"black"`
	White       EngineRef `json:"white"`
	InitialSFEN string    `json:"initial_sfen,omitempty"`
	TimePerMove int64     `json:"time_per_move_ms,omitempty"`
	MaxMoves    int       `json:"max_moves,omitempty"`
}

// MatchState is the snapshot emitted after every state change.
type MatchState struct {
	MatchID       string   `json:"match_id"`
	MoveNumber    int      `json:"move_number"`
	CurrentPlayer string   `json:"current_player"`
	PositionSFEN  string   `json:"position_sfen"`
	LastMove      string   `json:"last_move,omitempty"`
	MoveHistory   []string `json:"move_history"`
	GameOver      bool     `json:"game_over"`
	Winner        string   `json:"winner,omitempty"`
	GameResult    string   `json:"game_result,omitempty"`
}

// MoveEvent announces one played move.
type MoveEvent struct {
	MatchID    string `json:"match_id"`
	MoveNumber int    `json:"move_number"`
	Player     string `json:"player"`
	EngineID   string `json:"engine_id"`
	Engine     string `json:"engine"`
	Move       string `json:"move"`
}

// MatchResult is the persisted outcome of a finished match.
type MatchResult struct {
	MatchID     string    `json:"match_id"`
	BlackID     string    `json:"black_id"`
	BlackName   string    `json:"black_name"`
	WhiteID     string    `json:"white_id"`
	WhiteName   string    `json:"white_name"`
	InitialSFEN string    `json:"initial_sfen"`
	Winner      string    `json:"winner"`
	Reason      string    `json:"reason"`
	Moves       []string  `json:"moves"`
	TimePerMove int64     `json:"time_per_move_ms"`
	MaxMoves    int       `json:"max_moves"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
