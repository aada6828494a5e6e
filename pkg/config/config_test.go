package config

import "testing"

func TestValidateRejectsMissingPlaceholder(t *testing.T) {
	o := &Options{
		Backend: BackendKubernetes,
		Kubernetes: KubernetesOptions{
			ProductionURLTemplate: "apps.example.com",
			NamespaceFormat:       "rise-{project}",
		},
		Registry: RegistryOptions{Kind: RegistryOCI},
	}
	if err := o.Validate(); err == nil {
		t.Error("expected INVALID_CONFIG for missing {project_name} placeholder")
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	o := &Options{
		Backend: BackendLocalContainer,
		Kubernetes: KubernetesOptions{
			ProductionURLTemplate: "{project_name}.apps.example.com",
			NamespaceFormat:       "rise-{project}",
		},
		Registry: RegistryOptions{Kind: RegistryECR},
	}
	if err := o.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	o := &Options{
		Backend: "made-up",
		Kubernetes: KubernetesOptions{
			ProductionURLTemplate: "{project_name}.apps.example.com",
			NamespaceFormat:       "rise-{project}",
		},
		Registry: RegistryOptions{Kind: RegistryOCI},
	}
	if err := o.Validate(); err == nil {
		t.Error("expected INVALID_CONFIG for unknown backend kind")
	}
}
