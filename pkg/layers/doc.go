// Package layers manages the lifecycle of zerometa layers: installation, discovery,
// registration and native code loading.
//
// # Overview
//
// A layer is a versioned extension unit shipped as a directory containing a
// manifest.json file and, optionally, a lib/ directory with a native library.
// Installed layers live under a single layers directory, one subdirectory per
// layer ID.
//
// # Components
//
// Installer: Validates a layer and copies it into the layers directory, from a
// directory or from a tar.gz, tar.zst or zip archive
// Registry: Concurrent in-memory index of known layers (MemoryRegistry)
// Loader: Maps a layer's native library into the process and calls its
// layer_initialize entry point
// Watcher: Re-runs discovery when the layers directory changes
//
// # Manifest
//
//	{
//		"id": "echo",
//		"name": "Echo",
//		"description": "Echoes its input",
//		"version": "1.0.0",
//		"enabled": false
//	}
//
// # Usage Example
//
//	registry := layers.NewRegistry(log)
//	installer := layers.NewInstaller("/var/lib/zerometa/layers", log)
//	installer.SetRegistry(registry)
//
//	layer, err := installer.InstallFromDir("./echo", false)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	loader := layers.NewLoader(log)
//	if err := loader.LoadLayer(*layer); err != nil {
//		log.Fatal(err)
//	}
//
// # Errors
//
// Every failure wraps one of the kind sentinels (ErrIO, ErrParse, ErrNotFound,
// ErrAlreadyExists, ErrInvalidLayer, ErrPermissionDenied) and can be matched
// with errors.Is.
//
// # Related Packages
//
//   - pkg/native: Platform dynamic library loading
//   - pkg/sandbox: Permission envelope for layer subprocesses
package layers
