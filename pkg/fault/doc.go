/*
Package fault provides the handlers that run fault tasks and the Registry
the executor resolves them from.

Handlers are looked up by the task's extension name:

	command          command lists driven through the substage machine
	system-resource  same, but the fault stays active after injection and
	                 is polled by the reconciler until it ends
	node-status      pauses or resumes task execution on a node
	composite        expands into independent child tasks

Registration is explicit and happens once at startup.
*/
package fault
