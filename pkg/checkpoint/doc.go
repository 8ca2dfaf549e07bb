/*
Package checkpoint manages access to persisted workflow checkpoints.

A checkpoint holds every session of one workflow instance and must have a single writer at a
time. The Manager enforces this with a per-workflow lock in process and, optionally, a
distributed lock shared by all replicas.
*/
package checkpoint
