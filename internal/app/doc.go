// Package app composes the overlandd ingest pipeline: it wires the journal,
// stores and services together, owns their start/stop order via the system
// manager, and hands the assembled HTTP surface to the server in main.
//
// Business logic lives in the service packages under internal/app/services;
// this layer only builds and connects them.
package app
