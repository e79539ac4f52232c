// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/observability"
)

// NewFromConfig builds the sinks listed in audit.sinks, wrapped in an
// AsyncSink unless audit.buffer is -1.
func NewFromConfig(ctx context.Context, cfg *config.Config, pool *config.DBPool, metrics *observability.Metrics, logger *slog.Logger) (Sink, error) {
	ac := &cfg.Audit

	var sinks MultiSink
	fail := func(err error) (Sink, error) {
		_ = sinks.Close()
		return nil, err
	}
	for _, name := range ac.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, NewLogSink(logger))
		case "sql":
			if pool == nil {
				return fail(fmt.Errorf("DBPool is required for the sql audit sink"))
			}
			dbCfg, ok := cfg.GetDatabase(ac.SQLDatabase)
			if !ok {
				return fail(fmt.Errorf("database %q not found", ac.SQLDatabase))
			}
			db, err := pool.Get(ctx, dbCfg)
			if err != nil {
				return fail(fmt.Errorf("failed to get database connection: %w", err))
			}
			s, err := NewSQLSink(ctx, db, dbCfg.Dialect())
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		case "duckdb":
			s, err := NewDuckDBSink(ctx, ac.DuckDBPath)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		default:
			return fail(fmt.Errorf("unknown audit sink: %s", name))
		}
	}

	var sink Sink = sinks
	switch len(sinks) {
	case 0:
		sink = Discard{}
	case 1:
		sink = sinks[0]
	}
	if ac.Buffer == -1 {
		return sink, nil
	}
	return NewAsyncSink(sink, ac.Buffer, ac.WriteTimeout, metrics, logger), nil
}
