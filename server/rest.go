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
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/google/uuid"
	"github.com/gorse-io/bandmate/base/log"
	"github.com/gorse-io/bandmate/cmd/version"
	"github.com/gorse-io/bandmate/config"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/gorse-io/bandmate/logics"
	"github.com/gorse-io/bandmate/storage/cache"
	"github.com/gorse-io/bandmate/storage/data"
	"github.com/gorse-io/bandmate/trainer"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

// Recommendation is an entry of a recommendation list.
type Recommendation struct {
	ArtistId string  `json:"artistID"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
}

// Health describes the snapshot being served.
type Health struct {
	SnapshotId string    `json:"snapshotID"`
	Timestamp  time.Time `json:"timestamp"`
	Users      int       `json:"users"`
	Artists    int       `json:"artists"`
	NNZ        int       `json:"nnz"`
}

// Preferences are artists picked by a listener without history. Weight
// defaults to the weight suggested by the training data.
type Preferences struct {
	ArtistIds []string `json:"artistIDs"`
	Weight    *float64 `json:"weight,omitempty"`
}

type Success struct {
	RowAffected int
}

// RestServer implements a REST-ful API server.
type RestServer struct {
	Config      *config.Config
	Snapshot    *trainer.Snapshot
	CacheClient cache.Database
	DataClient  data.Source
	WebService  *restful.WebService
}

// CreateContainer registers the web service, the OpenAPI document and the
// metrics endpoint on a new container.
func (s *RestServer) CreateContainer() *restful.Container {
	s.CreateWebService()
	container := restful.NewContainer()
	container.Add(s.WebService)
	specConfig := restfulspec.Config{
		WebServices:                   container.RegisteredWebServices(),
		APIPath:                       "/apidocs.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject,
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle("/metrics", promhttp.Handler())
	return container
}

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "bandmate",
			Description: "Artist recommendations from listening histories",
			Version:     version.APIVersion,
		},
	}
}

// RequestIdFilter tags every response with a request id.
func RequestIdFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter("X-Request-ID")
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set("X-Request-ID", requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)))
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(otelrestful.OTelFilter("bandmate"))
	ws.Filter(RequestIdFilter)
	ws.Filter(LogFilter)

	// Recommend artists to a user
	ws.Route(ws.GET("/users/{user-id}/recommendations").To(s.getRecommendations).
		Filter(s.auth).
		Doc("Get artist recommendations for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned artists").DataType("integer")).
		Returns(http.StatusOK, "OK", []Recommendation{}).
		Returns(http.StatusBadRequest, "invalid n", nil).
		Writes([]Recommendation{}))
	// Get artists a user listened to
	ws.Route(ws.GET("/users/{user-id}/artists").To(s.getUserArtists).
		Filter(s.auth).
		Doc("Get artists a user listened to.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"user"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Returns(http.StatusOK, "OK", []data.Artist{}).
		Returns(http.StatusNotFound, "user not found", nil).
		Writes([]data.Artist{}))
	// Insert artists picked by a user
	ws.Route(ws.POST("/users/{user-id}/artists").To(s.insertUserArtists).
		Filter(s.auth).
		Doc("Insert artists picked by a user. They take effect at the next training.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"user"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Reads(Preferences{}).
		Returns(http.StatusOK, "OK", Success{}).
		Returns(http.StatusBadRequest, "invalid preferences", nil).
		Returns(http.StatusNotImplemented, "data store is read-only", nil).
		Writes(Success{}))
	// List artists
	ws.Route(ws.GET("/artists").To(s.getArtists).
		Filter(s.auth).
		Doc("Get the artist catalog.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"artist"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Returns(http.StatusOK, "OK", []data.Artist{}).
		Writes([]data.Artist{}))
	// Get an artist
	ws.Route(ws.GET("/artists/{artist-id}").To(s.getArtist).
		Filter(s.auth).
		Doc("Get an artist.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"artist"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("artist-id", "identifier of the artist").DataType("string")).
		Returns(http.StatusOK, "OK", data.Artist{}).
		Returns(http.StatusNotFound, "artist not found", nil).
		Writes(data.Artist{}))
	// Health check
	ws.Route(ws.GET("/health").To(s.getHealth).
		Doc("Get the snapshot being served.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Returns(http.StatusOK, "OK", Health{}).
		Writes(Health{}))
}

func (s *RestServer) getRecommendations(request *restful.Request, response *restful.Response) {
	start := time.Now()
	userId := request.PathParameter("user-id")
	n := s.Config.Recommend.NumRecommendations
	if param := request.QueryParameter("n"); param != "" {
		var err error
		if n, err = strconv.Atoi(param); err != nil {
			BadRequest(response, errors.NotValidf("n %q", param))
			return
		} else if n <= 0 {
			BadRequest(response, errors.NotValidf("n %d", n))
			return
		}
	}

	bundle := s.Snapshot.Bundle
	n = min(n, bundle.Dataset.Artists.Count())
	key := cache.Key(bundle.SnapshotId, userId, strconv.Itoa(n))
	if s.CacheClient != nil {
		if content, err := s.CacheClient.Get(request.Request.Context(), key); err == nil {
			CacheHitTotal.Inc()
			RawJSON(response, content)
			RecommendSeconds.Observe(time.Since(start).Seconds())
			return
		} else if !errors.Is(err, cache.ErrObjectNotExist) {
			log.ResponseLogger(response).Warn("failed to read cache", zap.Error(err))
		}
	}

	if _, ok := bundle.Dataset.Users.Index(userId); !ok {
		UnknownUserTotal.Inc()
	}
	scores, err := s.Snapshot.Recommender.Recommend(userId, n)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	recommendations := lo.Map(scores, func(score logics.Score, _ int) Recommendation {
		return Recommendation{
			ArtistId: score.ArtistId,
			Name:     bundle.ArtistName(score.ArtistId),
			Score:    score.Score,
		}
	})
	content, err := json.Marshal(recommendations)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	if s.CacheClient != nil {
		if err = s.CacheClient.Set(request.Request.Context(), key, content); err != nil {
			log.ResponseLogger(response).Warn("failed to write cache", zap.Error(err))
		}
	}
	RawJSON(response, content)
	RecommendSeconds.Observe(time.Since(start).Seconds())
}

func (s *RestServer) getUserArtists(request *restful.Request, response *restful.Response) {
	userId := request.PathParameter("user-id")
	artistIds, err := s.Snapshot.Recommender.KnownArtists(userId)
	if errors.Is(err, errors.NotFound) {
		PageNotFound(response, errors.NotFoundf("user %s", userId))
		return
	} else if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, lo.Map(artistIds, func(id string, _ int) data.Artist {
		return data.Artist{Id: id, Name: s.Snapshot.Bundle.ArtistName(id)}
	}))
}

func (s *RestServer) insertUserArtists(request *restful.Request, response *restful.Response) {
	userId := strings.TrimSpace(request.PathParameter("user-id"))
	if userId == "" {
		BadRequest(response, errors.NotValidf("empty user id"))
		return
	}
	var preferences Preferences
	if err := request.ReadEntity(&preferences); err != nil {
		BadRequest(response, err)
		return
	}
	artistIds := lo.Uniq(lo.Map(preferences.ArtistIds, func(id string, _ int) string {
		return strings.TrimSpace(id)
	}))
	if len(artistIds) == 0 {
		BadRequest(response, errors.NotValidf("empty artist list"))
		return
	} else if lo.Contains(artistIds, "") {
		BadRequest(response, errors.NotValidf("empty artist id"))
		return
	}
	weight := s.Snapshot.Bundle.DefaultWeight
	if preferences.Weight != nil {
		weight = *preferences.Weight
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight <= 0 {
		BadRequest(response, errors.NotValidf("weight %v", weight))
		return
	}
	if s.DataClient == nil {
		NotImplemented(response, errors.NotSupportedf("inserting interactions without a data store"))
		return
	}

	interactions := lo.Map(artistIds, func(artistId string, _ int) dataset.Interaction {
		return dataset.Interaction{UserId: userId, ArtistId: artistId, Weight: weight}
	})
	if err := s.DataClient.InsertInteractions(request.Request.Context(), interactions); errors.Is(err, errors.NotSupported) {
		NotImplemented(response, err)
		return
	} else if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, Success{RowAffected: len(interactions)})
}

func (s *RestServer) getArtists(_ *restful.Request, response *restful.Response) {
	catalog := s.Snapshot.Bundle.Catalog
	artists := make([]data.Artist, 0, len(catalog))
	for id, name := range catalog {
		artists = append(artists, data.Artist{Id: id, Name: name})
	}
	sort.Slice(artists, func(i, j int) bool {
		return artists[i].Id < artists[j].Id
	})
	Ok(response, artists)
}

func (s *RestServer) getArtist(request *restful.Request, response *restful.Response) {
	artistId := request.PathParameter("artist-id")
	name, ok := s.Snapshot.Bundle.Catalog[artistId]
	if !ok {
		PageNotFound(response, errors.NotFoundf("artist %s", artistId))
		return
	}
	Ok(response, data.Artist{Id: artistId, Name: name})
}

func (s *RestServer) getHealth(_ *restful.Request, response *restful.Response) {
	bundle := s.Snapshot.Bundle
	Ok(response, Health{
		SnapshotId: bundle.SnapshotId,
		Timestamp:  bundle.Timestamp,
		Users:      bundle.Dataset.Users.Count(),
		Artists:    bundle.Dataset.Artists.Count(),
		NNZ:        bundle.Dataset.Matrix.NNZ(),
	})
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteError(http.StatusNotFound, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// NotImplemented returns a not implemented error.
func NotImplemented(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("not implemented", zap.Error(err))
	if err = response.WriteError(http.StatusNotImplemented, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

// RawJSON sends already encoded JSON to the client.
func RawJSON(response *restful.Response, content []byte) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	response.Header().Set(restful.HEADER_ContentType, restful.MIME_JSON)
	if _, err := response.Write(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

func (s *RestServer) auth(request *restful.Request, response *restful.Response, chain *restful.FilterChain) {
	if s.Config.Server.APIKey == "" {
		chain.ProcessFilter(request, response)
		return
	}
	apikey := request.HeaderParameter("X-API-Key")
	if apikey == s.Config.Server.APIKey {
		chain.ProcessFilter(request, response)
		return
	}
	log.ResponseLogger(response).Error("unauthorized", zap.String("path", request.Request.URL.Path))
	if err := response.WriteError(http.StatusUnauthorized, fmt.Errorf("unauthorized")); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}
