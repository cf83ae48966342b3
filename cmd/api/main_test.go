// Package main contains integration tests for the API server lifecycle.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

// TestGracefulShutdown_InFlightRequests tests that in-flight requests
// complete before shutdown returns.
func TestGracefulShutdown_InFlightRequests(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := listener.Addr().String()

	handlerStarted := make(chan struct{})
	handlerCanContinue := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		// Hold the request open until the test releases it.
		<-handlerCanContinue
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"events":[]}`))
	})

	server := &http.Server{Handler: mux}
	serverStopped := make(chan struct{})
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
		close(serverStopped)
	}()

	requestDone := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/feed")
		if err != nil {
			t.Errorf("request error: %v", err)
		}
		requestDone <- resp
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("handler failed to start in time")
	}

	// Start shutdown while the request is in flight.
	shutdownDone := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.Errorf("shutdown error: %v", err)
		}
		close(shutdownDone)
	}()

	time.Sleep(50 * time.Millisecond)
	close(handlerCanContinue)

	var resp *http.Response
	select {
	case resp = <-requestDone:
	case <-time.After(5 * time.Second):
		t.Fatal("request failed to complete in time")
	}
	select {
	case <-shutdownDone:
	case <-time.After(15 * time.Second):
		t.Fatal("shutdown failed to complete in time")
	}
	select {
	case <-serverStopped:
	case <-time.After(5 * time.Second):
		t.Fatal("server failed to stop in time")
	}

	if resp == nil {
		t.Fatal("no response received")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

// TestGracefulShutdown_CleanExit verifies a shutdown with no in-flight
// requests completes without error.
func TestGracefulShutdown_CleanExit(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}

	server := &http.Server{Handler: http.NewServeMux()}
	go func() {
		_ = server.Serve(listener)
	}()

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("expected clean shutdown, got error: %v", err)
	}
}

// TestSignalNotify tests that the signals the server shuts down on are
// actually delivered to the quit channel.
func TestSignalNotify(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			go func() {
				time.Sleep(50 * time.Millisecond)
				_ = syscall.Kill(syscall.Getpid(), sig)
			}()

			select {
			case got := <-quit:
				if got != sig {
					t.Errorf("expected %v, got %v", sig, got)
				}
			case <-time.After(2 * time.Second):
				t.Errorf("did not receive %v in time", sig)
			}
		})
	}
}
