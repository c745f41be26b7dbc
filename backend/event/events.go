package event

import (
	"time"

	"github.com/google/uuid"
)

type BatchStarted struct {
	BatchID  uuid.UUID
	Task     string
	Provider string
	Model    string
	Total    int
}

func (BatchStarted) Event() {}

type CompletionCached struct {
	BatchID uuid.UUID
	Index   int
	Digest  string
}

func (CompletionCached) Event() {}

type CompletionFetched struct {
	BatchID  uuid.UUID
	Index    int
	Digest   string
	Attempts uint
	Duration time.Duration
}

func (CompletionFetched) Event() {}

type CompletionFailed struct {
	BatchID  uuid.UUID
	Index    int
	Digest   string
	Reason   string
	Attempts uint
}

func (CompletionFailed) Event() {}

type RateLimited struct {
	BatchID uuid.UUID
	Attempt uint
	Delay   time.Duration
}

func (RateLimited) Event() {}

type BatchFinished struct {
	BatchID   uuid.UUID
	Task      string
	Total     int
	Cached    int
	Fetched   int
	Failed    int
	Duration  time.Duration
	Cancelled bool
}

func (BatchFinished) Event() {}
