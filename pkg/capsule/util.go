package capsule

import (
	"time"

	"github.com/mirkobrombin/capsule/pkg/incus"
)

func incusManagerFor(name string) *incus.Manager {
	return incus.NewManager(name)
}

func daysSince(t time.Time) int {
	return int(time.Since(t).Hours() / 24)
}
