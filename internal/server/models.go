package server

// Request/response shapes for the HTTP API.

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type HTTPError struct {
	Error string `json:"error"`
}

type ChatRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode,omitempty"`
	Topic   string `json:"topic,omitempty"`
}

type ChatResponse struct {
	Reply     string `json:"reply"`
	State     string `json:"state"`
	Simulated bool   `json:"simulated"`

	FactsStored    int  `json:"facts_stored,omitempty"`
	FactsDropped   int  `json:"facts_dropped,omitempty"`
	ConsentGranted bool `json:"consent_granted,omitempty"`
}

type AttemptRequest struct {
	ExerciseID int64   `json:"exercise_id"`
	Topic      string  `json:"topic"`
	Subtopic   string  `json:"subtopic,omitempty"`
	IsCorrect  bool    `json:"is_correct"`
	Pattern    string  `json:"pattern,omitempty"`
	Severity   float64 `json:"severity,omitempty"`
}

type AttemptResponse struct {
	AttemptID int64 `json:"attempt_id"`
}

type ConsentRequest struct {
	AllowPersonalMemory *bool `json:"allow_personal_memory,omitempty"`
	AllowStoryStorage   *bool `json:"allow_story_storage,omitempty"`
	AllowSensitive      *bool `json:"allow_sensitive,omitempty"`
	RetentionDays       *int  `json:"retention_days,omitempty"`
}

type ConsentResponse struct {
	AllowPersonalMemory bool `json:"allow_personal_memory"`
	AllowStoryStorage   bool `json:"allow_story_storage"`
	AllowSensitive      bool `json:"allow_sensitive"`
	RetentionDays       int  `json:"retention_days"`
}

type StateRequest struct {
	State string `json:"state"`
	Topic string `json:"topic,omitempty"`
}

type StateResponse struct {
	State string `json:"state"`
	Mode  string `json:"mode,omitempty"`
	Topic string `json:"topic,omitempty"`
}

type PreferenceRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type PreferenceResponse struct {
	Key     string   `json:"key"`
	Value   string   `json:"value"`
	History []string `json:"history,omitempty"`
}

type ConsolidateResponse struct {
	Consolidated  bool   `json:"consolidated"`
	Reason        string `json:"reason,omitempty"`
	Scanned       int    `json:"scanned"`
	Buckets       int    `json:"buckets"`
	LastAttemptID int64  `json:"last_attempt_id"`
}

type RecommendResponse struct {
	Found      bool   `json:"found"`
	Mode       string `json:"mode,omitempty"`
	Bucket     string `json:"bucket,omitempty"`
	ExerciseID int64  `json:"exercise_id,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Type       string `json:"type,omitempty"`
	Difficulty int    `json:"difficulty,omitempty"`
	Question   string `json:"question,omitempty"`
	BandMin    int    `json:"band_min,omitempty"`
	BandMax    int    `json:"band_max,omitempty"`
}

type PackResponse struct {
	Pack string `json:"pack"`
}
