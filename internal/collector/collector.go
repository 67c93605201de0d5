package collector

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ConnectK8s builds a clientset from the usual kubeconfig loading rules,
// falling back to in-cluster configuration when no kubeconfig resolves.
func ConnectK8s(kubeconfig string) (*kubernetes.Clientset, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})

	config, err := clientConfig.ClientConfig()
	if err != nil {
		if config, err = rest.InClusterConfig(); err != nil {
			return nil, fmt.Errorf("failed to create client config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return clientset, nil
}

// Upstream opens one watch session against the event source. The watch loop
// depends on this interface rather than a clientset so tests can substitute a
// deterministic stream.
type Upstream interface {
	Watch(ctx context.Context, options metav1.ListOptions) (watch.Interface, error)
}

type podUpstream struct {
	client    kubernetes.Interface
	namespace string
}

func (p *podUpstream) Watch(ctx context.Context, options metav1.ListOptions) (watch.Interface, error) {
	return p.client.CoreV1().Pods(p.namespace).Watch(ctx, options)
}

// NewPodUpstream returns an Upstream watching pods in the given namespace,
// or across all namespaces when namespace is empty.
func NewPodUpstream(client kubernetes.Interface, namespace string) Upstream {
	return &podUpstream{client: client, namespace: namespace}
}
