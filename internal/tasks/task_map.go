package tasks

// BuildTaskMap constructs the static task_type -> MapEntry table (§4.6)
// binding every concrete task type to the filesystem roots its builder
// needs, in place of the original's module-level class registry.
func BuildTaskMap(env BuilderEnv) map[string]MapEntry {
	return map[string]MapEntry{
		TaskTypeIPXEBuild: {
			FriendlyName: "Build iPXE",
			Factory:      NewIPXEBuildTask(env),
		},
		TaskTypeDebianLive: {
			FriendlyName: "Build Debian Live Image",
			Factory:      NewDebianLiveTask(env),
		},
		TaskTypeUbuntuWeb: {
			FriendlyName: "New Ubuntu Web Installer Image",
			Factory:      NewUbuntuWebTask(env),
		},
		TaskTypeWindowsFromISO: {
			FriendlyName: "Build Windows Image From ISO",
			Factory:      NewWindowsFromISOTask(env),
		},
		TaskTypeESXFromISO: {
			FriendlyName: "Build ESXi Image From ISO",
			Factory:      NewESXFromISOTask(env),
		},
	}
}
