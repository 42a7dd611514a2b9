// Package config loads, normalizes, and validates vidingest configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a .env file from the working directory
// and honours environment fallbacks such as DESTINATION_BUCKET_NAME and
// LABELBOX_API_KEY. Destination identifiers live here rather than in code so
// the same binary can target any bucket and dataset.
package config
