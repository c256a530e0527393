// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools answers tool calls emitted by a model.
//
// # Key Types
//
//   - Tool: definition with name, description, parameters and executor
//   - Registry: the set of tools offered to the model
//   - Executor: runs calls with validation, timeout, truncation and history
//   - Response: one tool answer, in the same order as the calls
//
// # Built-in Tools
//
//   - current_time: the local (or a named zone's) date and time
//   - read_file: a text file from inside the configured working directory
//   - list_dir: the entries of a directory inside the working directory
package tools
