// Package fstools provides the filesystem tools the agent works with:
// ls, read_file, write_file, edit_file, glob and grep.
//
// In virtual mode every path is interpreted as an absolute path under the
// backend root ("/notes/a.txt" is root/notes/a.txt) and traversal outside the
// root is refused. Paths returned to the model use the same virtual form.
package fstools
