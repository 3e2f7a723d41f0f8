// Package config loads the knowmesh YAML configuration file.
//
// A file only needs the keys it changes; everything else keeps the
// defaults of the package that owns the setting:
//
//	data_dir: ~/.knowmesh
//	ai:
//	  embedding_host: http://localhost:11434
//	  embedding_model: nomic-embed-text
//	graph:
//	  learning_rate: 0.25
//	sources:
//	  - path: ~/notes
//	    extensions: [.md]
//
// Durations use Go syntax ("30s", "5m").
package config
