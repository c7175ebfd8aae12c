/*
Package servicebundle multiplexes many service queues under one address space.

Calls are routed by exact address or longest registered prefix; every queue's responses are
re-multiplexed onto one shared ResponseQueue read by polling. Flush and FlushSends force buffered
calls, and optionally their responses, through without waiting for batch thresholds.
*/
package servicebundle
