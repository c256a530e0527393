// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes generation state over a local HTTP API.
//
// # Endpoints
//
//   - GET  /healthz                   - Backend reachability
//   - GET  /metrics                   - Prometheus metrics
//   - GET  /generations               - Every in-flight generation
//   - GET  /generations/{id}          - isGenerating for one model message
//   - POST /generations/{id}/stop     - Cancel one generation
//   - GET  /titles                    - Chats currently generating a title
//
// # Security
//
//   - Binds wherever server.addr says; the default config leaves it off
//   - Optional bearer token with constant-time comparison (not on /healthz)
//   - Security headers and panic recovery on every route
//
// # Usage
//
//	srv := server.New(server.Config{Addr: "127.0.0.1:8788"}, server.Deps{
//		Generations: svc,
//		Backend:     b,
//		Log:         log,
//	})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
