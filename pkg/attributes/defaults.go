package attributes

// Defaults returns the built-in attribute tree. Values may reference other
// paths with ${path}; references are resolved on first read.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"host": map[string]interface{}{
			"hostname":              "localhost",
			"distribution_codename": "bionic",
		},
		"network": map[string]interface{}{
			"primary_interface": "eth0",
			"docker_interface":  "eth1",
		},
		"consul_template": map[string]interface{}{
			"config_path":   "/etc/consul-template.d/conf",
			"template_path": "/etc/consul-template.d/templates",
			"service":       "consul-template",
		},
		"consul": map[string]interface{}{
			"config_path": "/etc/consul/conf.d",
			"domain_key":  "config/services/consul/domain",
		},
		"docker": map[string]interface{}{
			"version":      "19.03.5",
			"package_name": "docker-ce",
			"package_options": []interface{}{
				"--force-yes",
				"-o", "Dpkg::Options::=--force-confold",
				"-o", "Dpkg::Options::=--force-all",
			},
			"data_path":                           "/srv/containers/docker",
			"config_path":                         "/etc/docker",
			"consul_template_network_script_file": "docker_network.ctmpl",
			"script_network_file":                 "/tmp/docker_network.sh",
			"apt": map[string]interface{}{
				"uri":          "https://download.docker.com/linux/ubuntu",
				"key_url":      "https://download.docker.com/linux/ubuntu/gpg",
				"distribution": "${host.distribution_codename}",
				"components":   []interface{}{"stable"},
			},
		},
		"etcd": map[string]interface{}{
			"version": "3.3.18",
			"url":     "https://storage.googleapis.com/etcd/v${etcd.version}/etcd-v${etcd.version}-linux-amd64.tar.gz",
			"path": map[string]interface{}{
				"install":      "/usr/local/bin",
				"config":       "/etc/etcd",
				"storage_base": "/var/lib/etcd",
				"data":         "${etcd.path.storage_base}/data",
				"wal":          "${etcd.path.storage_base}/wal",
			},
			"ports": map[string]interface{}{
				"client": 2379,
				"peers":  2380,
			},
			"service_user":  "etcd",
			"service_group": "etcd",
			"consul": map[string]interface{}{
				"tag":     "rancher",
				"service": "etcd",
			},
		},
		"firewall": map[string]interface{}{
			"allow_loopback": true,
			"allow_mosh":     false,
			"allow_winrm":    false,
			"ipv6_enabled":   false,
			"allow_ssh":      true,
			"ssh_port":       22,
		},
		"kubernetes": map[string]interface{}{
			"ports": map[string]interface{}{
				"api_server":      6443,
				"kubelet":         10250,
				"kube_scheduler":  10251,
				"kube_controller": 10252,
			},
			"apt": map[string]interface{}{
				"uri":          "https://apt.kubernetes.io/",
				"key_url":      "https://packages.cloud.google.com/apt/doc/apt-key.gpg",
				"distribution": "stable",
				"components":   []interface{}{"main"},
			},
			"packages":  []interface{}{"kubelet", "kubeadm", "kubectl"},
			"swap_unit": `dev-mapper-system\x2dswap_1.swap`,
		},
		"provisioning": map[string]interface{}{
			"manifest_path": "/etc/rancher-host/provisioning.json",
		},
		"run_list": []interface{}{"default"},
	}
}
