package biz

// Version is stamped by the build via -ldflags "-X ...biz.version=v1.2.3".
var version = "dev"

func Version() string {
	return version
}
