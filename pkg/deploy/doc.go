/*
Package deploy changes a lineage and watches the result.

UpdateImage is deploy-then-watch: it points the lineage's containers at a new
image through the cluster runtime and then runs the controller's decision loop
on the lineage, so a release that keeps failing its health checks is rolled
back automatically.

	d := deploy.NewDeployer(cluster, releases, ctrl, broker)
	res, err := d.UpdateImage(ctx, types.Policy{Lineage: "web"}, "web:1.2.0", nil)
	if err == nil && res.State == types.StateFailed {
		// the update did not recover, see res.Reason
	}

Scale changes the replica count. GetDeploymentStatus summarises the current
release revision and the phase, readiness and restarts of every instance.
*/
package deploy
