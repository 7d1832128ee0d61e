// Package virtualize replaces the bodies of selected ir functions with
// trampolines into the avm interpreter.
//
// For each function a Pass checks eligibility, translates the body into an
// avm.Program with a Context, and lets a CodeGenerator embed the program as
// a constant global and swap in a trampoline:
//
//	define i32 @add(i32 %a, i32 %b) trampoline {
//	entry:
//	  %avm.rf = call ptr @avm.regfile(i32 2)
//	  call void @avm.setreg.i32(ptr %avm.rf, i32 0, i32 %a)
//	  call void @avm.setreg.i32(ptr %avm.rf, i32 1, i32 %b)
//	  %avm.result = call i32 @avm.interpret.i32(ptr @avm.prog.add, ptr %avm.rf)
//	  ret i32 %avm.result
//	}
//
// A function that cannot be translated or installed is left exactly as it
// was. Runtime binds the avm.* entry points for an ir.Evaluator.
package virtualize
