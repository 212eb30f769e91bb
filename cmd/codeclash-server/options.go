package main

import (
	"github.com/codeclash-dev/codeclash/internal/database"
	"github.com/codeclash-dev/codeclash/internal/duel"
	"github.com/codeclash-dev/codeclash/internal/judge"
	"github.com/codeclash-dev/codeclash/internal/problem"
	"github.com/codeclash-dev/codeclash/internal/queue"
	"github.com/codeclash-dev/codeclash/internal/reward"
	"github.com/codeclash-dev/codeclash/internal/ws"
)

type Options struct {
	Addr string `toml:"addr"`

	DB database.Options `toml:"db"`

	// Leaving the redis address empty keeps the queue in process memory.
	Redis queue.RedisOptions `toml:"redis"`
	Queue queue.Options      `toml:"queue"`

	Judge  judge.ClientOptions `toml:"judge"`
	Grader judge.GraderOptions `toml:"grader"`

	Provider problem.ProviderOptions `toml:"provider"`
	Problems problem.SourceOptions   `toml:"problems"`

	Rewards reward.Options `toml:"rewards"`
	Matches duel.Options   `toml:"matches"`
	WS      ws.Options     `toml:"ws"`
}

func (o *Options) FillDefaults() {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:8080"
	}
	o.DB.FillDefaults()
	o.Queue.FillDefaults()
	o.Grader.FillDefaults()
	o.Problems.FillDefaults()
	o.Rewards.FillDefaults()
	o.Matches.FillDefaults()
	o.WS.FillDefaults()
}
