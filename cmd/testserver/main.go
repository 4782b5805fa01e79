// Command testserver is a minimal HTTP target for exercising wrkgo
// locally, adapted from the teacher's scripts/test-server: a 200 endpoint
// (/status/200) that waits for the optional -delay, a JSON echo endpoint
// (/get) and a health check (/health), tuned for high connection counts
// rather than realistic request handling.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	delay := flag.Duration("delay", 0, "artificial per-request delay, e.g. 5ms")
	flag.Parse()

	runtime.GOMAXPROCS(runtime.NumCPU())

	mux := http.NewServeMux()
	mux.HandleFunc("/status/200", func(w http.ResponseWriter, r *http.Request) {
		if *delay > 0 {
			time.Sleep(*delay)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"method":%q,"url":%q,"time":%q}`, r.Method, r.URL.String(), time.Now().Format(time.RFC3339))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	log.Printf("testserver listening on %s (%d CPUs)", *addr, runtime.NumCPU())
	if err := server.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
