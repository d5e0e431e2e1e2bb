package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"hearthd/internal/core/domain"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/version", s.VersionHandler)
	e.GET("/platforms", s.PlatformsHandler)
	e.GET("/entities", s.EntitiesHandler)
	e.GET("/entities/:id", s.EntityHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) VersionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version":  versioninfo.Version,
		"revision": versioninfo.Revision,
	})
}

func (s *Server) PlatformsHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.PlatformStatusRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "platforms: FAIL")
	}
	if response, ok := res.(domain.PlatformStatusResponse); ok {
		return c.JSON(http.StatusOK, response.Platforms)
	}
	return c.String(http.StatusServiceUnavailable, "platforms: FAIL")
}

type entityStateDTO struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (s *Server) EntitiesHandler(c echo.Context) error {
	states := s.hub.States().All()
	out := make([]entityStateDTO, 0, len(states))
	for id, st := range states {
		out = append(out, entityStateDTO{
			EntityID:   id,
			State:      st.Value,
			Attributes: st.Attributes,
			UpdatedAt:  st.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return c.JSON(http.StatusOK, out)
}

func (s *Server) EntityHandler(c echo.Context) error {
	id := c.Param("id")
	st, ok := s.hub.States().Get(id)
	if !ok {
		return c.String(http.StatusNotFound, "entity not found")
	}
	return c.JSON(http.StatusOK, entityStateDTO{
		EntityID:   id,
		State:      st.Value,
		Attributes: st.Attributes,
		UpdatedAt:  st.UpdatedAt,
	})
}
