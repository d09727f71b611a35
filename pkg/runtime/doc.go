/*
Package runtime is the controller's window onto the orchestrator.

Cluster lists instances by label selector, reports each instance's phase,
Ready condition and restart count, probes instance endpoints, and performs the
two writes the tooling needs: scaling a lineage and pointing it at a new image.

KubeCluster implements Cluster with client-go. Instances are pods, addressed by
pod IP and a configured container port; a lineage is the Deployment of the same
name. Writes go through retry.RetryOnConflict so a concurrent controller update
of the Deployment does not fail the call.

Probes reuse the checkers of package health, so an endpoint that refuses the
connection or times out is reported as unreachable, and one that answers with a
bad status as unhealthy.
*/
package runtime
