package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reconquest/pkg/web"
	"github.com/reconquest/traffic-light/internal/phase"
)

type WebHandler struct {
	web        *web.Web
	metrics    http.Handler
	simulation *Simulation
}

func NewWebHandler(simulation *Simulation) *WebHandler {
	handler := &WebHandler{
		simulation: simulation,
		metrics: promhttp.HandlerFor(
			simulation.Metrics().Registry(),
			promhttp.HandlerOpts{},
		),
	}

	router := web.New()
	router.Get("/", router.ServeFunc(handler.HandlePhases))

	handler.web = router

	return handler
}

// phases is a snapshot of every light; lights are read one by one so the
// result is not a consistent cut across lights.
func (handler *WebHandler) phases() map[string]phase.Phase {
	phases := map[string]phase.Phase{}
	for _, traffic := range handler.simulation.Lights() {
		phases[traffic.ID()] = traffic.CurrentPhase()
	}

	return phases
}

func (handler *WebHandler) HandlePhases(context *web.Context) web.Status {
	data, err := json.Marshal(handler.phases())
	if err != nil {
		return context.InternalError(err, "unable to encode phases")
	}

	context.GetResponseWriter().Header().Set("Content-Type", "application/json")
	context.Write(data)

	return context.OK()
}

func (handler *WebHandler) ServeHTTP(response http.ResponseWriter, request *http.Request) {
	if request.URL.Path == "/metrics" {
		handler.metrics.ServeHTTP(response, request)
		return
	}

	handler.web.ServeHTTP(response, request)
}
