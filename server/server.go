// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/gorse-io/bandmate/base/log"
	"github.com/gorse-io/bandmate/config"
	"github.com/gorse-io/bandmate/storage/cache"
	"github.com/gorse-io/bandmate/storage/data"
	"github.com/gorse-io/bandmate/trainer"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server serves recommendations from a loaded snapshot.
type Server struct {
	RestServer
}

// NewServer creates a server. cacheClient may be nil to disable caching and
// dataClient may be nil to reject inserted preferences.
func NewServer(cfg *config.Config, snapshot *trainer.Snapshot, cacheClient cache.Database, dataClient data.Source) *Server {
	return &Server{
		RestServer: RestServer{
			Config:      cfg,
			Snapshot:    snapshot,
			CacheClient: cacheClient,
			DataClient:  dataClient,
			WebService:  new(restful.WebService),
		},
	}
}

// Serve blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port),
		Handler: s.CreateContainer(),
	}
	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.ListenAndServe()
	}()
	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s", httpServer.Addr)),
		zap.String("snapshot_id", s.Snapshot.Bundle.SnapshotId))

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Trace(err)
	case <-ctx.Done():
		log.Logger().Info("stop http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Trace(httpServer.Shutdown(shutdownCtx))
	}
}
