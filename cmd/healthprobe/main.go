// Command healthprobe is a lean sidecar that exposes a fasthttp health
// endpoint and proxies readiness from the main service's /readyz. It exists
// for deployments whose probers hammer the health port at high rates.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address for the health sidecar")
	target := flag.String("target", "http://127.0.0.1:8080/readyz", "readiness URL of the main service")
	interval := flag.Duration("interval", 2*time.Second, "poll interval for the target readiness endpoint")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	probe := newProbe(*target, *interval)
	probe.start()

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"ok\",\"version\":\"%s\"}", *ver))
		case "/readyz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			if probe.ready() {
				ctx.SetStatusCode(fasthttp.StatusOK)
				_, _ = ctx.WriteString("{\"status\":\"ok\"}")
			} else {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString("{\"status\":\"not ready\"}")
			}
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("health sidecar listening on %s (target %s)\n", *addr, *target)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "streamcart-healthprobe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("fasthttp server exit: %v\n", err)
	}
}
