package recipes

import (
	"time"

	"github.com/openfroyo/rancherhost/pkg/attributes"
	"github.com/openfroyo/rancherhost/pkg/engine"
)

const swapTimeout = 2 * time.Minute

// kubernetesRecipe prepares a Kubernetes node: swap off, the kubeadm
// packages installed, kubelet left disabled until the node joins, and the
// control plane ports open.
func kubernetesRecipe(a *attributes.Attributes) engine.Recipe {
	return engine.Recipe{
		Name: Kubernetes,
		Build: func(b *engine.Builder) error {
			k := a.Kubernetes

			b.Execute("turn off swap immediately", engine.ExecuteSpec{
				Command: "swapoff -a",
				OnlyIf:  "swapon --show --noheadings | grep -q .",
				Timeout: swapTimeout,
			})
			b.Execute("turn off swap permanently", engine.ExecuteSpec{
				Command: `sed -i '/ swap / s/^\(.*\)$/#\1/g' /etc/fstab`,
				OnlyIf:  `grep -q '^[^#].* swap ' /etc/fstab`,
				Timeout: swapTimeout,
			})
			if k.SwapUnit != "" {
				b.Service(engine.ActionMask, engine.ServiceSpec{Unit: k.SwapUnit})
			}

			for _, pkg := range []string{"apt-transport-https", "curl"} {
				b.Package(engine.PackageSpec{Package: pkg})
			}
			b.AptRepository(engine.AptRepositorySpec{
				Repository:   "kubernetes",
				URI:          k.Apt.URI,
				Distribution: k.Apt.Distribution,
				Components:   k.Apt.Components,
				KeyURL:       k.Apt.KeyURL,
			})
			for _, pkg := range k.Packages {
				b.Package(engine.PackageSpec{Package: pkg})
			}
			b.Service(engine.ActionDisable, engine.ServiceSpec{Unit: "kubelet"})

			allowPort(b, "kubernetes-api-server", "Allow Kubernetes API server", k.Ports.APIServer)
			allowPort(b, "kubernetes-kubelet", "Allow Kubernetes kubelet API", k.Ports.Kubelet)
			allowPort(b, "kubernetes-kube-scheduler", "Allow Kubernetes kube-scheduler", k.Ports.KubeScheduler)
			allowPort(b, "kubernetes-kube-controller", "Allow Kubernetes kube-controller", k.Ports.KubeController)
			return b.Err()
		},
	}
}
