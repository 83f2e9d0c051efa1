package fcm

import "github.com/tinywideclouds/go-push-service/pkg/push"

// SetClassifier replaces the Firebase error classifier so mock-client tests can
// map plain sentinel errors. Real SDK errors are covered through fcmtest.
func SetClassifier(d *Dispatcher, fn func(error) *push.Error) {
	d.classify = fn
}
