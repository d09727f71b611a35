/*
Package config loads controller settings.

Process-wide defaults come from ROLLOUT_* environment variables (plus the
standard KUBECONFIG and HELM_DRIVER) via Load. Per-lineage policies come from
YAML files holding one or more RolloutPolicy documents:

	apiVersion: rollout/v1
	kind: RolloutPolicy
	metadata:
	  name: web
	spec:
	  interval: 30s
	  maxAttempts: 3
	  paths: [/health, /ready]

Fields a policy leaves out are filled from the environment defaults with
types.Policy.WithDefaults. Command-line flags override both.
*/
package config
