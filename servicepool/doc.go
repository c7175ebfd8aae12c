/*
Package servicepool tracks the live instances of named services for discovery and load-balancing.

A Pool is only ever mutated by whole-set replacement: SetHealthyNodes diffs the new set against
the current one, notifies listeners of every addition and removal, swaps the snapshot atomically
and then reports aggregate counts. Readers never see a partial update.
*/
package servicepool
