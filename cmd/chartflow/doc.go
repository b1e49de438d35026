// Command chartflow is the operator CLI for the clinical document pipeline.
// It talks to a stage instance's HTTP API, normally the ingestion origin, to
// upload documents, inspect their progress, and manage their lifecycle.
package main
